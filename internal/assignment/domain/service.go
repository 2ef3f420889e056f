package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	preauditdomain "github.com/smallbiznis/medaudit/internal/preaudit/domain"
	rosterdomain "github.com/smallbiznis/medaudit/internal/roster/domain"
	"gorm.io/gorm"
)

type Service interface {
	// AssignBatch plans against the given roster snapshot and commits each
	// item in its own transaction. Items bound before a failure stay bound.
	AssignBatch(ctx context.Context, preGlosaIDs []snowflake.ID, roster []rosterdomain.Auditor) (*AssignmentResult, error)
	// ReleaseItem closes a bound item an auditor dismissed without a glosa
	// and frees the slot. Releasing a closed item is a no-op.
	ReleaseItem(ctx context.Context, preGlosaID snowflake.ID, reason string) (*preauditdomain.PreGlosa, error)
	// ReleaseServiceRef closes every open item of a service line inside the
	// caller's transaction.
	ReleaseServiceRef(ctx context.Context, tx *gorm.DB, serviceRef string) ([]snowflake.ID, error)
	ListForAuditor(ctx context.Context, auditorID string) ([]QueueItem, error)
}

var (
	ErrAlreadyAssigned      = errors.New("already_assigned")
	ErrConsistencyViolation = errors.New("assignment_consistency_violation")
	ErrNotFound             = errors.New("pre_glosa_not_found")
	ErrNotAssigned          = errors.New("pre_glosa_not_assigned")
	ErrEmptyBatch           = errors.New("empty_batch")
)
