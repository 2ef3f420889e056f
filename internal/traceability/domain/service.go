package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Service interface {
	// Record appends an entry. A non-nil tx makes the write part of the
	// caller's transaction.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) (*Entry, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Count(ctx context.Context, claimTransactionID snowflake.ID) (int64, error)
}

var (
	ErrInvalidAction      = errors.New("invalid_action")
	ErrInvalidTransaction = errors.New("invalid_claim_transaction")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
)
