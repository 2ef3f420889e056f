package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Apply(ctx context.Context, req ApplyRequest) (*Glosa, error)
	Respond(ctx context.Context, req RespondRequest) (*Glosa, error)
	Decide(ctx context.Context, req DecideRequest) (*Glosa, error)
	Get(ctx context.Context, serviceRef string) (*View, error)
	History(ctx context.Context, serviceRef string) ([]HistoryEntry, error)
	// Settle advances the transaction to AUDITED when no glosa is open and no
	// pre-glosa is pending review.
	Settle(ctx context.Context, claimTransactionID snowflake.ID) (bool, error)
}

var (
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrAlreadyGlosed        = errors.New("already_glosed")
	ErrValueExceedsService  = errors.New("value_exceeds_service")
	ErrInvalidValue         = errors.New("invalid_glosa_value")
	ErrInvalidAcceptedValue = errors.New("invalid_accepted_value")
	ErrInvalidResponseType  = errors.New("invalid_response_type")
	ErrInvalidDecision      = errors.New("invalid_decision")
	ErrInvalidRequest       = errors.New("invalid_request")
)
