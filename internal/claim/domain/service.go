package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Save(ctx context.Context, req SaveRequest) (*ClaimTransaction, error)
	GetByID(ctx context.Context, id snowflake.ID) (*ClaimTransaction, error)
	FindByInvoiceAndProvider(ctx context.Context, invoiceNumber, providerNit string) (*ClaimTransaction, error)
	GetServiceLine(ctx context.Context, ref ServiceRef) (*ServiceLine, error)
	// AdvanceState moves the transaction forward. Requests that would keep or
	// regress the state are ignored.
	AdvanceState(ctx context.Context, id snowflake.ID, to ProcessingState) error
}

// SaveRequest is the parsed claim handed over by the ingestion pipeline.
type SaveRequest struct {
	InvoiceNumber    string          `json:"invoice_number" validate:"required,max=64"`
	ProviderNit      string          `json:"provider_nit" validate:"required,max=32"`
	ProviderName     string          `json:"provider_name" validate:"max=256"`
	InvoiceIssuerNit *string         `json:"invoice_issuer_nit,omitempty" validate:"omitempty,max=32"`
	IssuedAt         *time.Time      `json:"issued_at,omitempty"`
	ReceivedAt       *time.Time      `json:"received_at,omitempty"`
	Users            []PatientRecord `json:"users" validate:"dive"`
}
