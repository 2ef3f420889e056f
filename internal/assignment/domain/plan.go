package domain

import (
	"sort"
	"strings"

	"github.com/smallbiznis/medaudit/internal/config"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
)

// RoleForCategory maps a glosa category to the reviewer role it needs.
func RoleForCategory(category string) (rosterdomain.Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(category)) {
	case config.CategoryMedical:
		return rosterdomain.RoleMedicalAuditor, true
	case config.CategoryAdministrative:
		return rosterdomain.RoleAdminAuditor, true
	default:
		return "", false
	}
}

func Eligible(auditor rosterdomain.Auditor, item PlanItem) bool {
	if !auditor.Active {
		return false
	}
	role, ok := RoleForCategory(item.Category)
	if !ok || !auditor.HasRole(role) {
		return false
	}
	return auditor.HasSpecialty(item.RequiredSpecialty)
}

// Plan distributes items greedily: highest value first, each to the eligible
// auditor with the lowest load including what this plan already gave it.
// Ties go to the lower auditor ID. Plan does not mutate its arguments.
func Plan(items []PlanItem, roster []rosterdomain.Auditor) Allocation {
	ordered := make([]PlanItem, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Value != ordered[j].Value {
			return ordered[i].Value > ordered[j].Value
		}
		return ordered[i].PreGlosaID < ordered[j].PreGlosaID
	})

	pool := make([]rosterdomain.Auditor, 0, len(roster))
	for _, auditor := range roster {
		if auditor.Active {
			pool = append(pool, auditor)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })

	pending := make(map[string]int, len(pool))
	var out Allocation
	for _, item := range ordered {
		best := -1
		for i, auditor := range pool {
			if !Eligible(auditor, item) {
				continue
			}
			if auditor.RemainingCapacity()-pending[auditor.ID] <= 0 {
				continue
			}
			if best < 0 {
				best = i
				continue
			}
			current := pool[best]
			if auditor.CurrentLoad+pending[auditor.ID] < current.CurrentLoad+pending[current.ID] {
				best = i
			}
		}
		if best < 0 {
			out.Unassigned = append(out.Unassigned, UnassignedItem{
				PreGlosaID: item.PreGlosaID,
				Reason:     ReasonNoEligibleAuditor,
			})
			continue
		}
		chosen := pool[best].ID
		pending[chosen]++
		out.Bindings = append(out.Bindings, Binding{Item: item, AuditorID: chosen})
	}
	return out
}
