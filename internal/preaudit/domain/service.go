package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Classify(ctx context.Context, claimTransactionID snowflake.ID) (*ClassificationResult, error)
	// Results returns the stored records of the active rule version without
	// running the rules.
	Results(ctx context.Context, claimTransactionID snowflake.ID) (*ClassificationResult, error)
}

var (
	ErrClassificationInProgress = errors.New("classification_in_progress")
)
