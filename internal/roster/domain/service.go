package domain

import (
	"context"
	"errors"
)

type Service interface {
	Upsert(ctx context.Context, req UpsertRequest) (*Auditor, error)
	List(ctx context.Context, activeOnly bool) ([]Auditor, error)
	Get(ctx context.Context, id string) (*Auditor, error)
	HasRole(ctx context.Context, id string, role Role) (bool, error)
	RecomputeLoad(ctx context.Context, id string) (*Auditor, error)
}

var (
	ErrNotFound         = errors.New("auditor_not_found")
	ErrInvalidAuditor   = errors.New("invalid_auditor")
	ErrInvalidRole      = errors.New("invalid_role")
	ErrInvalidCapacity  = errors.New("invalid_daily_capacity")
	ErrCapacityExceeded = errors.New("capacity_exceeded")
)
