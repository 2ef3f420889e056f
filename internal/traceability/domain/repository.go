package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository only appends. There is no update or delete path.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	Count(ctx context.Context, db *gorm.DB, claimTransactionID snowflake.ID) (int64, error)
	// ListAfter returns entries with id greater than afterID in id order.
	ListAfter(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]*Entry, error)

	GetOffset(ctx context.Context, db *gorm.DB, consumer string) (snowflake.ID, error)
	SaveOffset(ctx context.Context, db *gorm.DB, consumer string, lastEntryID snowflake.ID, at time.Time) error
}
