package domain

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/config"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func medicalAuditor(id string, capacity, load int, specialties ...string) rosterdomain.Auditor {
	return rosterdomain.Auditor{
		ID:            id,
		Roles:         []rosterdomain.Role{rosterdomain.RoleMedicalAuditor},
		Specialties:   specialties,
		DailyCapacity: capacity,
		CurrentLoad:   load,
		Active:        true,
	}
}

func items(n int, category string) []PlanItem {
	out := make([]PlanItem, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, PlanItem{
			PreGlosaID: snowflake.ID(100 + i),
			Value:      int64(1_000 * (i + 1)),
			Category:   category,
		})
	}
	return out
}

func countByAuditor(bindings []Binding) map[string]int {
	out := map[string]int{}
	for _, b := range bindings {
		out[b.AuditorID]++
	}
	return out
}

func TestPlanBalancesEvenly(t *testing.T) {
	roster := []rosterdomain.Auditor{
		medicalAuditor("aud-b", 5, 0),
		medicalAuditor("aud-a", 5, 0),
	}

	alloc := Plan(items(10, config.CategoryMedical), roster)

	assert.Empty(t, alloc.Unassigned)
	assert.Equal(t, map[string]int{"aud-a": 5, "aud-b": 5}, countByAuditor(alloc.Bindings))
	// Highest value first, ties on load go to the lower auditor ID.
	require.Len(t, alloc.Bindings, 10)
	assert.Equal(t, snowflake.ID(109), alloc.Bindings[0].Item.PreGlosaID)
	assert.Equal(t, "aud-a", alloc.Bindings[0].AuditorID)
	assert.Equal(t, "aud-b", alloc.Bindings[1].AuditorID)
}

func TestPlanRemovesExhaustedAuditors(t *testing.T) {
	roster := []rosterdomain.Auditor{medicalAuditor("aud-a", 1, 0)}

	alloc := Plan(items(3, config.CategoryMedical), roster)

	require.Len(t, alloc.Bindings, 1)
	assert.Equal(t, snowflake.ID(102), alloc.Bindings[0].Item.PreGlosaID)
	require.Len(t, alloc.Unassigned, 2)
	for _, u := range alloc.Unassigned {
		assert.Equal(t, ReasonNoEligibleAuditor, u.Reason)
	}
}

func TestPlanPrefersLowestLoad(t *testing.T) {
	roster := []rosterdomain.Auditor{
		medicalAuditor("aud-a", 10, 4),
		medicalAuditor("aud-b", 10, 1),
	}

	alloc := Plan(items(3, config.CategoryMedical), roster)

	assert.Equal(t, map[string]int{"aud-b": 3}, countByAuditor(alloc.Bindings))
}

func TestPlanEligibility(t *testing.T) {
	admin := rosterdomain.Auditor{
		ID:            "aud-admin",
		Roles:         []rosterdomain.Role{rosterdomain.RoleAdminAuditor},
		DailyCapacity: 10,
		Active:        true,
	}
	internist := medicalAuditor("aud-internist", 10, 0, "internal_medicine")
	inactive := medicalAuditor("aud-inactive", 10, 0, "pediatrics")
	inactive.Active = false

	roster := []rosterdomain.Auditor{admin, internist, inactive}

	t.Run("category needs matching role", func(t *testing.T) {
		alloc := Plan([]PlanItem{{PreGlosaID: 1, Value: 10, Category: config.CategoryAdministrative}}, roster)
		require.Len(t, alloc.Bindings, 1)
		assert.Equal(t, "aud-admin", alloc.Bindings[0].AuditorID)
	})

	t.Run("specialty must be listed", func(t *testing.T) {
		alloc := Plan([]PlanItem{{PreGlosaID: 2, Value: 10, Category: config.CategoryMedical, RequiredSpecialty: "INTERNAL_MEDICINE"}}, roster)
		require.Len(t, alloc.Bindings, 1)
		assert.Equal(t, "aud-internist", alloc.Bindings[0].AuditorID)
	})

	t.Run("inactive auditors are skipped", func(t *testing.T) {
		alloc := Plan([]PlanItem{{PreGlosaID: 3, Value: 10, Category: config.CategoryMedical, RequiredSpecialty: "pediatrics"}}, roster)
		assert.Empty(t, alloc.Bindings)
		require.Len(t, alloc.Unassigned, 1)
		assert.Equal(t, ReasonNoEligibleAuditor, alloc.Unassigned[0].Reason)
	})
}

func TestPlanIsDeterministic(t *testing.T) {
	roster := []rosterdomain.Auditor{
		medicalAuditor("aud-c", 4, 1),
		medicalAuditor("aud-a", 3, 0),
		medicalAuditor("aud-b", 4, 2),
	}
	in := items(8, config.CategoryMedical)
	in[3].Value = in[4].Value

	first := Plan(in, roster)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Plan(in, roster))
	}
	assert.Equal(t, snowflake.ID(100), in[0].PreGlosaID, "input order is preserved")
	assert.Equal(t, 0, roster[1].CurrentLoad)
}

func TestPlanNeverExceedsCapacity(t *testing.T) {
	roster := []rosterdomain.Auditor{
		medicalAuditor("aud-a", 2, 1),
		medicalAuditor("aud-b", 3, 3),
		// Capacity lowered below the current load.
		medicalAuditor("aud-c", 2, 4),
	}

	alloc := Plan(items(5, config.CategoryMedical), roster)

	assert.Equal(t, map[string]int{"aud-a": 1}, countByAuditor(alloc.Bindings))
	assert.Len(t, alloc.Unassigned, 4)
}
