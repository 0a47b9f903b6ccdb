package session

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a recording session.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
	StateEnded  State = "ended"
)

// ValidState reports whether s is a known session state.
func ValidState(s State) bool {
	switch s {
	case StateActive, StatePaused, StateEnded:
		return true
	}
	return false
}

// Settings is the immutable configuration captured when a session starts.
type Settings struct {
	TranscriptionEnabled bool    `json:"transcription_enabled"`
	SuggestionsEnabled   bool    `json:"suggestions_enabled"`
	SourceLanguage       string  `json:"source_language"`
	TargetLanguage       *string `json:"target_language,omitempty"`
}

// Session maps to the sessions table and to the in-memory registry entry.
// ID, OwnerID, EncounterID, ChannelID and Settings are immutable after
// creation; State and EndedAt are mutated only by the Coordinator under
// its per-session lock.
type Session struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	OwnerID     string     `db:"owner_id" json:"owner_id"`
	EncounterID *uuid.UUID `db:"encounter_id" json:"encounter_id,omitempty"`
	ChannelID   uuid.UUID  `db:"channel_id" json:"channel_id"`
	State       State      `db:"state" json:"state"`
	StartedAt   time.Time  `db:"started_at" json:"started_at"`
	EndedAt     *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	Settings    Settings   `db:"settings" json:"settings"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Ended reports whether the session has reached its terminal state.
func (s *Session) Ended() bool { return s.State == StateEnded }

// clone returns a copy so registry readers cannot mutate coordinator state.
func (s *Session) clone() *Session {
	cp := *s
	if s.EncounterID != nil {
		e := *s.EncounterID
		cp.EncounterID = &e
	}
	if s.EndedAt != nil {
		e := *s.EndedAt
		cp.EndedAt = &e
	}
	if s.Settings.TargetLanguage != nil {
		l := *s.Settings.TargetLanguage
		cp.Settings.TargetLanguage = &l
	}
	return &cp
}

// Transition names used in lifecycle event payloads.
const (
	TransitionStarted = "started"
	TransitionPaused  = "paused"
	TransitionResumed = "resumed"
	TransitionEnded   = "ended"
)

// LifecyclePayload is the payload of lifecycle events published on the
// bus. It carries a full session snapshot so persistence and audit
// subscribers can record history without querying the registry.
type LifecyclePayload struct {
	Transition  string     `json:"transition"`
	SessionID   uuid.UUID  `json:"session_id"`
	OwnerID     string     `json:"owner_id"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	ChannelID   uuid.UUID  `json:"channel_id"`
	State       State      `json:"state"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Settings    Settings   `json:"settings"`
}
