package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleMedicalAuditor Role = "MEDICAL_AUDITOR"
	RoleAdminAuditor   Role = "ADMIN_AUDITOR"
	RoleCoordinator    Role = "COORDINATOR"
	RoleConciliator    Role = "CONCILIATOR"
)

func (r Role) Valid() bool {
	switch r {
	case RoleMedicalAuditor, RoleAdminAuditor, RoleCoordinator, RoleConciliator:
		return true
	default:
		return false
	}
}

// Auditor is a reviewer synced from the identity provider. CurrentLoad is
// owned by the assignment engine and never written by the sync.
type Auditor struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Roles         []Role    `json:"roles"`
	Specialties   []string  `json:"specialties"`
	DailyCapacity int       `json:"daily_capacity"`
	CurrentLoad   int       `json:"current_load"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (a Auditor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Auditor) HasSpecialty(specialty string) bool {
	specialty = strings.TrimSpace(specialty)
	if specialty == "" {
		return true
	}
	for _, s := range a.Specialties {
		if strings.EqualFold(s, specialty) {
			return true
		}
	}
	return false
}

// RemainingCapacity is never negative.
func (a Auditor) RemainingCapacity() int {
	if remaining := a.DailyCapacity - a.CurrentLoad; remaining > 0 {
		return remaining
	}
	return 0
}

type UpsertRequest struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Roles         []Role   `json:"roles"`
	Specialties   []string `json:"specialties"`
	DailyCapacity int      `json:"daily_capacity"`
	Active        bool     `json:"active"`
}
