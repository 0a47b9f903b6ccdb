package encounter

import (
	"time"

	"github.com/google/uuid"
)

// Valid encounter statuses.
const (
	StatusPlanned    = "planned"
	StatusInProgress = "in-progress"
	StatusFinished   = "finished"
	StatusCancelled  = "cancelled"
)

// Encounter maps to the encounters table. A clinical session may reference
// an encounter to tie transcripts and suggestions back to a visit.
type Encounter struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PatientRef     string     `db:"patient_ref" json:"patient_ref"`
	PractitionerID string     `db:"practitioner_id" json:"practitioner_id"`
	Status         string     `db:"status" json:"status"`
	ReasonText     *string    `db:"reason_text" json:"reason_text,omitempty"`
	IsTelehealth   bool       `db:"is_telehealth" json:"is_telehealth"`
	PeriodStart    time.Time  `db:"period_start" json:"period_start"`
	PeriodEnd      *time.Time `db:"period_end" json:"period_end,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

var validStatuses = map[string]bool{
	StatusPlanned:    true,
	StatusInProgress: true,
	StatusFinished:   true,
	StatusCancelled:  true,
}

// ValidStatus reports whether s is a recognized encounter status.
func ValidStatus(s string) bool {
	return validStatuses[s]
}
