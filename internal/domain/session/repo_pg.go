package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates the PostgreSQL-backed session repository.
func NewPGRepository(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const sessCols = `id, owner_id, encounter_id, channel_id, state, started_at, ended_at,
	settings, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, sess *Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (
			id, owner_id, encounter_id, channel_id, state, started_at, ended_at, settings
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.OwnerID, sess.EncounterID, sess.ChannelID,
		sess.State, sess.StartedAt, sess.EndedAt, sess.Settings,
	)
	return err
}

func (r *repoPG) UpdateState(ctx context.Context, id uuid.UUID, state State, endedAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET state = $2, ended_at = $3, updated_at = NOW()
		WHERE id = $1`,
		id, state, endedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessCols+` FROM sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+sessCols+` FROM sessions
		ORDER BY started_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	return sessions, total, err
}

func (r *repoPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+sessCols+` FROM sessions
		WHERE owner_id = $1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sessions, err := scanSessions(rows)
	return sessions, total, err
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID, &sess.OwnerID, &sess.EncounterID, &sess.ChannelID,
		&sess.State, &sess.StartedAt, &sess.EndedAt,
		&sess.Settings, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanSessions(rows pgx.Rows) ([]*Session, error) {
	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
