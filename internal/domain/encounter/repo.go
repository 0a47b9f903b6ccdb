package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
	ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*Encounter, int, error)
	ListByPractitioner(ctx context.Context, practitionerID string, limit, offset int) ([]*Encounter, int, error)
}
