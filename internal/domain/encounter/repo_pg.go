package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const encCols = `id, patient_ref, practitioner_id, status, reason_text, is_telehealth,
	period_start, period_end, created_at, updated_at`

type repoPG struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO encounters (id, patient_ref, practitioner_id, status, reason_text, is_telehealth, period_start, period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		enc.ID, enc.PatientRef, enc.PractitionerID, enc.Status, enc.ReasonText, enc.IsTelehealth,
		enc.PeriodStart, enc.PeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+encCols+` FROM encounters WHERE id = $1`, id)
	return scanEncounter(row)
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE encounters
		SET status = $2, reason_text = $3, is_telehealth = $4, period_end = $5, updated_at = NOW()
		WHERE id = $1`,
		enc.ID, enc.Status, enc.ReasonText, enc.IsTelehealth, enc.PeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("update encounter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM encounters`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+encCols+` FROM encounters ORDER BY period_start DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	encs, err := scanEncounters(rows)
	if err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM encounters WHERE patient_ref = $1`, patientRef).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+encCols+` FROM encounters WHERE patient_ref = $1 ORDER BY period_start DESC LIMIT $2 OFFSET $3`,
		patientRef, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters by patient: %w", err)
	}
	defer rows.Close()

	encs, err := scanEncounters(rows)
	if err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}

func (r *repoPG) ListByPractitioner(ctx context.Context, practitionerID string, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM encounters WHERE practitioner_id = $1`, practitionerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+encCols+` FROM encounters WHERE practitioner_id = $1 ORDER BY period_start DESC LIMIT $2 OFFSET $3`,
		practitionerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters by practitioner: %w", err)
	}
	defer rows.Close()

	encs, err := scanEncounters(rows)
	if err != nil {
		return nil, 0, err
	}
	return encs, total, nil
}

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var enc Encounter
	err := row.Scan(
		&enc.ID, &enc.PatientRef, &enc.PractitionerID, &enc.Status, &enc.ReasonText, &enc.IsTelehealth,
		&enc.PeriodStart, &enc.PeriodEnd, &enc.CreatedAt, &enc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan encounter: %w", err)
	}
	return &enc, nil
}

func scanEncounters(rows pgx.Rows) ([]*Encounter, error) {
	var encs []*Encounter
	for rows.Next() {
		var enc Encounter
		err := rows.Scan(
			&enc.ID, &enc.PatientRef, &enc.PractitionerID, &enc.Status, &enc.ReasonText, &enc.IsTelehealth,
			&enc.PeriodStart, &enc.PeriodEnd, &enc.CreatedAt, &enc.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan encounter: %w", err)
		}
		encs = append(encs, &enc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate encounters: %w", err)
	}
	return encs, nil
}
