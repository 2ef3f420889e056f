package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/traceability/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO traceability_entries (id, claim_transaction_id, actor_id, action_code, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ClaimTransactionID,
		entry.ActorID,
		entry.ActionCode,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	stmt := db.WithContext(ctx).Model(&domain.Entry{}).
		Where("claim_transaction_id = ?", filter.ClaimTransactionID)

	if filter.After != nil {
		stmt = stmt.Where("(created_at > ?) OR (created_at = ? AND id > ?)",
			filter.After.CreatedAt,
			filter.After.CreatedAt,
			filter.After.ID,
		)
	}

	stmt = stmt.Order("created_at asc, id asc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Entry{}).
		Where("claim_transaction_id = ?", claimTransactionID).
		Count(&count).Error
	return count, err
}

func (r *repo) ListAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	err := db.WithContext(ctx).Model(&domain.Entry{}).
		Where("id > ?", afterID).
		Order("id asc").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) GetOffset(ctx context.Context, db *gorm.DB, consumer string) (snowflake.ID, error) {
	var offset domain.Offset
	err := db.WithContext(ctx).Raw(
		`SELECT consumer, last_entry_id, updated_at FROM trace_relay_offsets WHERE consumer = ?`,
		consumer,
	).Scan(&offset).Error
	if err != nil {
		return 0, err
	}
	return offset.LastEntryID, nil
}

func (r *repo) SaveOffset(ctx context.Context, db *gorm.DB, consumer string, lastEntryID snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO trace_relay_offsets (consumer, last_entry_id, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (consumer) DO UPDATE SET last_entry_id = excluded.last_entry_id, updated_at = excluded.updated_at`,
		consumer,
		lastEntryID,
		at,
	).Error
}
