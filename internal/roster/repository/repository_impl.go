package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/medaudit/internal/roster/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type auditorRow struct {
	ID            string                      `gorm:"column:id"`
	Name          string                      `gorm:"column:name"`
	Roles         datatypes.JSONSlice[string] `gorm:"column:roles"`
	Specialties   datatypes.JSONSlice[string] `gorm:"column:specialties"`
	DailyCapacity int                         `gorm:"column:daily_capacity"`
	CurrentLoad   int                         `gorm:"column:current_load"`
	Active        bool                        `gorm:"column:active"`
	CreatedAt     time.Time                   `gorm:"column:created_at"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at"`
}

func (row auditorRow) toDomain() domain.Auditor {
	roles := make([]domain.Role, 0, len(row.Roles))
	for _, r := range row.Roles {
		roles = append(roles, domain.Role(r))
	}
	specialties := append([]string{}, row.Specialties...)
	return domain.Auditor{
		ID:            row.ID,
		Name:          row.Name,
		Roles:         roles,
		Specialties:   specialties,
		DailyCapacity: row.DailyCapacity,
		CurrentLoad:   row.CurrentLoad,
		Active:        row.Active,
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

const selectAuditor = `SELECT id, name, roles, specialties, daily_capacity, current_load, active, created_at, updated_at FROM auditors`

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, auditor *domain.Auditor) error {
	roles := make(datatypes.JSONSlice[string], 0, len(auditor.Roles))
	for _, role := range auditor.Roles {
		roles = append(roles, string(role))
	}
	specialties := datatypes.JSONSlice[string](append([]string{}, auditor.Specialties...))

	return db.WithContext(ctx).Exec(
		`INSERT INTO auditors (id, name, roles, specialties, daily_capacity, current_load, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			roles = excluded.roles,
			specialties = excluded.specialties,
			daily_capacity = excluded.daily_capacity,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		auditor.ID,
		auditor.Name,
		roles,
		specialties,
		auditor.DailyCapacity,
		auditor.Active,
		auditor.CreatedAt,
		auditor.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Auditor, error) {
	var row auditorRow
	err := db.WithContext(ctx).Raw(selectAuditor+` WHERE id = ?`, id).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == "" {
		return nil, nil
	}
	auditor := row.toDomain()
	return &auditor, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Auditor, error) {
	query := selectAuditor
	args := []any{}
	if activeOnly {
		query += ` WHERE active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY id ASC`

	var rows []auditorRow
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	auditors := make([]domain.Auditor, 0, len(rows))
	for _, row := range rows {
		auditors = append(auditors, row.toDomain())
	}
	return auditors, nil
}

func (r *repo) IncrementLoad(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE auditors SET current_load = current_load + 1, updated_at = ?
		 WHERE id = ? AND active = ? AND current_load < daily_capacity`,
		at, id, true,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) DecrementLoad(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE auditors SET current_load = current_load - 1, updated_at = ?
		 WHERE id = ? AND current_load > 0`,
		at, id,
	).Error
}

func (r *repo) SetLoad(ctx context.Context, db *gorm.DB, id string, load int, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE auditors SET current_load = ?, updated_at = ? WHERE id = ?`,
		load, at, id,
	).Error
}

func (r *repo) CountOpenItems(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM pre_glosas WHERE assigned_auditor_id = ? AND closed_at IS NULL`,
		id,
	).Scan(&count).Error
	return count, err
}
