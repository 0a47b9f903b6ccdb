package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type recorderPG struct {
	pool *pgxpool.Pool
}

// NewPGRecorder returns a Recorder that appends entries to the
// session_audit table.
func NewPGRecorder(pool *pgxpool.Pool) Recorder {
	return &recorderPG{pool: pool}
}

func (r *recorderPG) Record(ctx context.Context, entry Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO session_audit (session_id, owner_id, transition, state, sequence, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.SessionID, entry.OwnerID, entry.Transition, entry.State, entry.Sequence, entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
