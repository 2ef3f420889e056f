package domain

import "errors"

var (
	ErrNotFound            = errors.New("claim_not_found")
	ErrServiceNotFound     = errors.New("service_line_not_found")
	ErrDuplicateInvoice    = errors.New("duplicate_invoice")
	ErrNegativeBilledValue = errors.New("negative_billed_value")
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrInvalidState        = errors.New("invalid_state")
	ErrInvalidServiceRef   = errors.New("invalid_service_ref")
	ErrUnknownServiceType  = errors.New("unknown_service_type")
)
