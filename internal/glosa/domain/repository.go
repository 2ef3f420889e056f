package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByServiceRef(ctx context.Context, db *gorm.DB, serviceRef string) (*Glosa, error)
	Insert(ctx context.Context, db *gorm.DB, glosa *Glosa) error
	// UpdateFrom writes the mutable fields of glosa only while the stored
	// state still equals from, and reports whether the row changed.
	UpdateFrom(ctx context.Context, db *gorm.DB, glosa *Glosa, from State) (bool, error)
	InsertHistory(ctx context.Context, db *gorm.DB, entry *HistoryEntry) error
	ListHistory(ctx context.Context, db *gorm.DB, serviceRef string) ([]HistoryEntry, error)
	HasPreDevolution(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID) (bool, error)
	ListStates(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID) ([]State, error)
	// CountPendingPreGlosas counts open pre-glosas of a transaction whose
	// service line has no terminal glosa yet.
	CountPendingPreGlosas(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID) (int64, error)
}
