package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, auditor *Auditor) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Auditor, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]Auditor, error)
	// IncrementLoad raises current_load by one while it stays below
	// daily_capacity and reports whether the row changed.
	IncrementLoad(ctx context.Context, db *gorm.DB, id string, at time.Time) (bool, error)
	// DecrementLoad lowers current_load by one, never below zero.
	DecrementLoad(ctx context.Context, db *gorm.DB, id string, at time.Time) error
	SetLoad(ctx context.Context, db *gorm.DB, id string, load int, at time.Time) error
	CountOpenItems(ctx context.Context, db *gorm.DB, id string) (int64, error)
}
