// Package audit records session lifecycle transitions for compliance
// review. The sink is a bus subscriber, so coordinator transitions never
// wait on the audit store.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/platform/bus"
)

// Entry is one audited lifecycle transition.
type Entry struct {
	SessionID  string    `json:"session_id"`
	OwnerID    string    `json:"owner_id"`
	Transition string    `json:"transition"`
	State      string    `json:"state"`
	Sequence   uint64    `json:"sequence"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder persists audit entries. Tests provide a mock; production uses
// the PostgreSQL implementation in this package.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// RecorderFunc is a function adapter for Recorder.
type RecorderFunc func(ctx context.Context, entry Entry) error

func (f RecorderFunc) Record(ctx context.Context, entry Entry) error {
	return f(ctx, entry)
}

// Sink drains the bus lifecycle tap into a Recorder.
type Sink struct {
	events   *bus.Bus
	recorder Recorder
	logger   zerolog.Logger
}

func NewSink(events *bus.Bus, recorder Recorder, logger zerolog.Logger) *Sink {
	return &Sink{events: events, recorder: recorder, logger: logger}
}

// Run consumes lifecycle events until ctx is cancelled or the bus shuts
// down. Call it on its own goroutine.
func (s *Sink) Run(ctx context.Context) {
	sub := s.events.SubscribeLifecycle()
	defer s.events.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				if sub.Reason() == bus.ReasonSlowConsumer {
					s.logger.Error().Msg("audit sink detached as slow consumer; lifecycle entries lost")
				}
				return
			}
			s.record(ctx, evt)
		}
	}
}

// record extracts the audited fields from the lifecycle payload. The
// payload shape is owned by the session domain; decoding into a loose
// struct here avoids an import cycle with it.
func (s *Sink) record(ctx context.Context, evt bus.Event) {
	var payload struct {
		Transition string `json:"transition"`
		OwnerID    string `json:"owner_id"`
		State      string `json:"state"`
	}
	if err := json.Unmarshal(evt.Payload, &payload); err != nil {
		s.logger.Error().Err(err).
			Str("session_id", evt.SessionID.String()).
			Msg("audit sink: undecodable lifecycle payload")
		return
	}

	entry := Entry{
		SessionID:  evt.SessionID.String(),
		OwnerID:    payload.OwnerID,
		Transition: payload.Transition,
		State:      payload.State,
		Sequence:   evt.Sequence,
		OccurredAt: evt.OccurredAt,
	}

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.recorder.Record(opCtx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("session_id", entry.SessionID).
			Str("transition", entry.Transition).
			Msg("audit sink: record failed")
		return
	}

	s.logger.Info().
		Str("session_id", entry.SessionID).
		Str("owner_id", entry.OwnerID).
		Str("transition", entry.Transition).
		Uint64("sequence", entry.Sequence).
		Msg("session transition audited")
}
