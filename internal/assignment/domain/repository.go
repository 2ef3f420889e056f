package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	preauditdomain "github.com/smallbiznis/medaudit/internal/preaudit/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindPreGlosas(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]preauditdomain.PreGlosa, error)
	FindPreGlosa(ctx context.Context, db *gorm.DB, id snowflake.ID) (*preauditdomain.PreGlosa, error)
	// BindPreGlosa sets the assignment of an unbound pre-glosa and reports
	// whether the row changed.
	BindPreGlosa(ctx context.Context, db *gorm.DB, id, assignmentID snowflake.ID, auditorID string, at time.Time) (bool, error)
	// ClosePreGlosa marks an open bound item as closed.
	ClosePreGlosa(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	FindRecord(ctx context.Context, db *gorm.DB, batchID, auditorID string) (*AssignmentRecord, error)
	InsertRecord(ctx context.Context, db *gorm.DB, record *AssignmentRecord) error
	AddRecordValue(ctx context.Context, db *gorm.DB, recordID snowflake.ID, value int64) error
	InsertItem(ctx context.Context, db *gorm.DB, item AssignmentItem) error
	CountItems(ctx context.Context, db *gorm.DB, recordID snowflake.ID) (int, error)
	ListRecordsByBatch(ctx context.Context, db *gorm.DB, batchID string) ([]AssignmentRecord, error)

	ListOpenByAuditor(ctx context.Context, db *gorm.DB, auditorID string) ([]QueueItem, error)
	ListOpenByServiceRef(ctx context.Context, db *gorm.DB, serviceRef string) ([]preauditdomain.PreGlosa, error)
}
