package authorization

import (
	"context"
	"errors"
)

type Service interface {
	// Authorize resolves the actor's roster roles and checks the action
	// against the seeded policy.
	Authorize(ctx context.Context, actorID string, object string, action string) error
}

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)
