package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/platform/bus"
)

// Recorder is the persistence subscriber: it consumes lifecycle events
// from the bus and durably records session history in the repository.
// The core itself guarantees nothing beyond process lifetime; this is
// where durability happens.
type Recorder struct {
	repo   Repository
	events *bus.Bus
	logger zerolog.Logger
}

// NewRecorder wires a lifecycle recorder.
func NewRecorder(repo Repository, events *bus.Bus, logger zerolog.Logger) *Recorder {
	return &Recorder{repo: repo, events: events, logger: logger}
}

// Run subscribes to the bus-wide lifecycle tap and records transitions
// until ctx is cancelled or the tap is closed. Call it in a goroutine.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.events.SubscribeLifecycle()
	defer r.events.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				if sub.Reason() == bus.ReasonSlowConsumer {
					r.logger.Error().Msg("lifecycle recorder detached as slow consumer; session history may be incomplete")
				}
				return
			}
			r.record(ctx, evt)
		}
	}
}

func (r *Recorder) record(ctx context.Context, evt bus.Event) {
	var p LifecyclePayload
	if err := json.Unmarshal(evt.Payload, &p); err != nil {
		r.logger.Error().Err(err).
			Str("session_id", evt.SessionID.String()).
			Msg("unmarshal lifecycle payload")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	switch p.Transition {
	case TransitionStarted:
		err = r.repo.Create(opCtx, &Session{
			ID:          p.SessionID,
			OwnerID:     p.OwnerID,
			EncounterID: p.EncounterID,
			ChannelID:   p.ChannelID,
			State:       p.State,
			StartedAt:   p.StartedAt,
			Settings:    p.Settings,
		})
	case TransitionPaused, TransitionResumed, TransitionEnded:
		err = r.repo.UpdateState(opCtx, p.SessionID, p.State, p.EndedAt)
	default:
		r.logger.Warn().
			Str("transition", p.Transition).
			Str("session_id", p.SessionID.String()).
			Msg("unknown lifecycle transition")
		return
	}

	if err != nil {
		r.logger.Error().Err(err).
			Str("session_id", p.SessionID.String()).
			Str("transition", p.Transition).
			Msg("record session transition")
	}
}
