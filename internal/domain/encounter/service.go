package encounter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an encounter does not exist.
var ErrNotFound = errors.New("encounter not found")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateEncounter(ctx context.Context, enc *Encounter) error {
	if enc.PatientRef == "" {
		return fmt.Errorf("patient_ref is required")
	}
	if enc.PractitionerID == "" {
		return fmt.Errorf("practitioner_id is required")
	}
	if enc.Status == "" {
		enc.Status = StatusPlanned
	}
	if !ValidStatus(enc.Status) {
		return fmt.Errorf("invalid status: %s", enc.Status)
	}
	if enc.ID == uuid.Nil {
		enc.ID = uuid.New()
	}
	if enc.PeriodStart.IsZero() {
		enc.PeriodStart = time.Now().UTC()
	}
	return s.repo.Create(ctx, enc)
}

func (s *Service) GetEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateStatus moves an encounter to newStatus. Finishing an open
// encounter stamps the period end.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, newStatus string) (*Encounter, error) {
	if !ValidStatus(newStatus) {
		return nil, fmt.Errorf("invalid status: %s", newStatus)
	}

	enc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	enc.Status = newStatus
	if newStatus == StatusFinished && enc.PeriodEnd == nil {
		now := time.Now().UTC()
		enc.PeriodEnd = &now
	}

	if err := s.repo.Update(ctx, enc); err != nil {
		return nil, err
	}
	return enc, nil
}

func (s *Service) ListEncounters(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientRef string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPatient(ctx, patientRef, limit, offset)
}

func (s *Service) ListByPractitioner(ctx context.Context, practitionerID string, limit, offset int) ([]*Encounter, int, error) {
	return s.repo.ListByPractitioner(ctx, practitionerID, limit, offset)
}
