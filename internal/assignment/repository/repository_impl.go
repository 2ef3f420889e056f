package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/assignment/domain"
	preauditdomain "github.com/smallbiznis/medaudit/internal/preaudit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindPreGlosas(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]preauditdomain.PreGlosa, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []preauditdomain.PreGlosa
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindPreGlosa(ctx context.Context, db *gorm.DB, id snowflake.ID) (*preauditdomain.PreGlosa, error) {
	var item preauditdomain.PreGlosa
	err := db.WithContext(ctx).Raw(
		`SELECT * FROM pre_glosas WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) BindPreGlosa(ctx context.Context, db *gorm.DB, id, assignmentID snowflake.ID, auditorID string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pre_glosas SET assignment_id = ?, assigned_auditor_id = ?, assigned_at = ?
		 WHERE id = ? AND assignment_id IS NULL`,
		assignmentID, auditorID, at, id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ClosePreGlosa(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE pre_glosas SET closed_at = ?
		 WHERE id = ? AND assignment_id IS NOT NULL AND closed_at IS NULL`,
		at, id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindRecord(ctx context.Context, db *gorm.DB, batchID, auditorID string) (*domain.AssignmentRecord, error) {
	var record domain.AssignmentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, batch_id, auditor_id, assigned_at, assigned_by, total_value_assigned
		 FROM assignment_records WHERE batch_id = ? AND auditor_id = ? LIMIT 1`,
		batchID, auditorID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *domain.AssignmentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignment_records (id, batch_id, auditor_id, assigned_at, assigned_by, total_value_assigned)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.BatchID,
		record.AuditorID,
		record.AssignedAt,
		record.AssignedBy,
		record.TotalValueAssigned,
	).Error
}

func (r *repo) AddRecordValue(ctx context.Context, db *gorm.DB, recordID snowflake.ID, value int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE assignment_records SET total_value_assigned = total_value_assigned + ? WHERE id = ?`,
		value, recordID,
	).Error
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item domain.AssignmentItem) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO assignment_items (assignment_id, pre_glosa_id, item_index) VALUES (?, ?, ?)`,
		item.AssignmentID, item.PreGlosaID, item.ItemIndex,
	).Error
}

func (r *repo) CountItems(ctx context.Context, db *gorm.DB, recordID snowflake.ID) (int, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM assignment_items WHERE assignment_id = ?`,
		recordID,
	).Scan(&count).Error
	return int(count), err
}

func (r *repo) ListRecordsByBatch(ctx context.Context, db *gorm.DB, batchID string) ([]domain.AssignmentRecord, error) {
	var records []domain.AssignmentRecord
	err := db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("auditor_id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	ids := make([]snowflake.ID, 0, len(records))
	for _, record := range records {
		ids = append(ids, record.ID)
	}
	var items []domain.AssignmentItem
	err = db.WithContext(ctx).
		Where("assignment_id IN ?", ids).
		Order("assignment_id asc, item_index asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	byRecord := make(map[snowflake.ID][]snowflake.ID, len(records))
	for _, item := range items {
		byRecord[item.AssignmentID] = append(byRecord[item.AssignmentID], item.PreGlosaID)
	}
	for i := range records {
		records[i].PreGlosaIDs = byRecord[records[i].ID]
	}
	return records, nil
}

func (r *repo) ListOpenByAuditor(ctx context.Context, db *gorm.DB, auditorID string) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, claim_transaction_id, service_ref, glosa_code, glosa_value, category, required_specialty, assignment_id, assigned_at
		 FROM pre_glosas
		 WHERE assigned_auditor_id = ? AND closed_at IS NULL
		 ORDER BY assigned_at asc, id asc`,
		auditorID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListOpenByServiceRef(ctx context.Context, db *gorm.DB, serviceRef string) ([]preauditdomain.PreGlosa, error) {
	var items []preauditdomain.PreGlosa
	err := db.WithContext(ctx).
		Where("service_ref = ? AND assignment_id IS NOT NULL AND closed_at IS NULL", serviceRef).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
