package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Repository persists claim transactions together with their embedded
// patient and service tree. Implementations exist for a relational store and
// a document store, so the contract carries no database handle.
type Repository interface {
	// Insert stores a new transaction. A duplicate invoice+provider pair
	// returns ErrDuplicateInvoice.
	Insert(ctx context.Context, tx *ClaimTransaction) error
	FindByID(ctx context.Context, id snowflake.ID) (*ClaimTransaction, error)
	FindByInvoiceAndProvider(ctx context.Context, invoiceNumber, providerNit string) (*ClaimTransaction, error)
	FindServiceLine(ctx context.Context, ref ServiceRef) (*ServiceLine, error)
	// CompareAndSetState moves a transaction from one state to another and
	// reports whether the row was in the expected state.
	CompareAndSetState(ctx context.Context, id snowflake.ID, from, to ProcessingState, at time.Time) (bool, error)
}
