package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository is the durable store of session history. It is written by
// the persistence recorder from lifecycle events, never by the
// Coordinator directly, so lifecycle transitions stay free of external
// I/O.
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	UpdateState(ctx context.Context, id uuid.UUID, state State, endedAt *time.Time) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	List(ctx context.Context, limit, offset int) ([]*Session, int, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Session, int, error)
}
