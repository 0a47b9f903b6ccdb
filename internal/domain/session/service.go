package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mdx-vision/mdx/internal/platform/bus"
	"github.com/mdx-vision/mdx/internal/platform/channel"
)

// Authorizer answers whether a caller owns a session. pause/resume/end
// treat it as a synchronous dependency; a NotOwner verdict blocks the
// transition.
type Authorizer interface {
	IsOwner(ctx context.Context, callerID string, sessionID uuid.UUID) (bool, error)
}

// registryAuthorizer is the default Authorizer: it compares the caller
// against the registry's record of the session owner.
type registryAuthorizer struct {
	reg *Registry
}

// NewRegistryAuthorizer returns an Authorizer backed by the registry.
func NewRegistryAuthorizer(reg *Registry) Authorizer {
	return &registryAuthorizer{reg: reg}
}

func (a *registryAuthorizer) IsOwner(_ context.Context, callerID string, sessionID uuid.UUID) (bool, error) {
	sess, err := a.reg.Get(sessionID)
	if err != nil {
		return false, err
	}
	return sess.OwnerID == callerID, nil
}

// CoordinatorOptions tune session lifecycle behavior.
type CoordinatorOptions struct {
	// Retention is how long an ended session's topic and registry entry
	// survive before teardown, giving subscribers time to drain.
	Retention time.Duration
	// PauseBlocksPublish halts event publication for a paused session
	// until it resumes. See the bus option of the same name.
	PauseBlocksPublish bool
}

// Coordinator orchestrates the session lifecycle: start, pause, resume,
// end. All operations against one session id are serialized on a
// per-session mutex; operations on different sessions do not block each
// other. The coordinator is the only writer of registry state.
type Coordinator struct {
	reg    *Registry
	alloc  *channel.Allocator
	events *bus.Bus
	authz  Authorizer
	opts   CoordinatorOptions
	logger zerolog.Logger

	mu     sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

// NewCoordinator wires a coordinator. A nil authz falls back to the
// registry-backed owner check.
func NewCoordinator(reg *Registry, alloc *channel.Allocator, events *bus.Bus, authz Authorizer, opts CoordinatorOptions, logger zerolog.Logger) *Coordinator {
	if authz == nil {
		authz = NewRegistryAuthorizer(reg)
	}
	if opts.Retention <= 0 {
		opts.Retention = time.Minute
	}
	return &Coordinator{
		reg:    reg,
		alloc:  alloc,
		events: events,
		authz:  authz,
		opts:   opts,
		logger: logger,
		locks:  make(map[uuid.UUID]*sync.Mutex),
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// lockFor returns the per-session mutex, creating it if needed.
func (c *Coordinator) lockFor(id uuid.UUID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[id]
	if !ok {
		l = &sync.Mutex{}
		c.locks[id] = l
	}
	return l
}

func (c *Coordinator) dropLock(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.locks, id)
	delete(c.timers, id)
}

// Start allocates an audio channel, registers a new active session and
// publishes lifecycle:started. The session is Active the instant Start
// returns.
func (c *Coordinator) Start(ctx context.Context, ownerID string, encounterID *uuid.UUID, settings Settings) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	if settings.SourceLanguage == "" {
		settings.SourceLanguage = "en"
	}

	id := uuid.New()
	channelID, err := c.alloc.Allocate(id)
	if err != nil {
		return nil, fmt.Errorf("allocate channel: %w", err)
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:          id,
		OwnerID:     ownerID,
		EncounterID: encounterID,
		ChannelID:   channelID,
		State:       StateActive,
		StartedAt:   now,
		Settings:    settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	l := c.lockFor(id)
	l.Lock()
	c.reg.put(sess)
	c.publishLifecycle(TransitionStarted, sess)
	l.Unlock()

	c.logger.Info().
		Str("session_id", id.String()).
		Str("owner_id", ownerID).
		Str("channel_id", channelID.String()).
		Msg("session started")

	return sess.clone(), nil
}

// Pause transitions Active -> Paused.
func (c *Coordinator) Pause(ctx context.Context, id uuid.UUID, callerID string) (*Session, error) {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess, err := c.authorized(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, ErrAlreadyEnded
	}
	if sess.State != StateActive {
		return nil, ErrInvalidTransition
	}

	sess.State = StatePaused
	sess.UpdatedAt = time.Now().UTC()
	c.reg.update(sess)
	if c.opts.PauseBlocksPublish {
		c.events.SetPaused(id, true)
	}
	c.publishLifecycle(TransitionPaused, sess)

	c.logger.Info().Str("session_id", id.String()).Msg("session paused")
	return sess.clone(), nil
}

// Resume transitions Paused -> Active.
func (c *Coordinator) Resume(ctx context.Context, id uuid.UUID, callerID string) (*Session, error) {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess, err := c.authorized(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, ErrAlreadyEnded
	}
	if sess.State != StatePaused {
		return nil, ErrInvalidTransition
	}

	sess.State = StateActive
	sess.UpdatedAt = time.Now().UTC()
	c.reg.update(sess)
	c.events.SetPaused(id, false)
	c.publishLifecycle(TransitionResumed, sess)

	c.logger.Info().Str("session_id", id.String()).Msg("session resumed")
	return sess.clone(), nil
}

// End transitions Active or Paused -> Ended, releases the audio channel,
// publishes lifecycle:ended and schedules topic teardown plus registry
// eviction after the retention window.
func (c *Coordinator) End(ctx context.Context, id uuid.UUID, callerID string) (*Session, error) {
	l := c.lockFor(id)
	l.Lock()
	defer l.Unlock()

	sess, err := c.authorized(ctx, id, callerID)
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, ErrAlreadyEnded
	}

	now := time.Now().UTC()
	sess.State = StateEnded
	sess.EndedAt = &now
	sess.UpdatedAt = now
	c.reg.update(sess)

	if err := c.alloc.Release(sess.ChannelID); err != nil {
		// The lease should always be outstanding here; a failed release
		// indicates a bug worth surfacing, not aborting the transition.
		c.logger.Error().Err(err).
			Str("session_id", id.String()).
			Str("channel_id", sess.ChannelID.String()).
			Msg("channel release failed")
	}

	c.events.SetPaused(id, false)
	c.publishLifecycle(TransitionEnded, sess)
	c.scheduleTeardown(id)

	c.logger.Info().
		Str("session_id", id.String()).
		Dur("retention", c.opts.Retention).
		Msg("session ended")
	return sess.clone(), nil
}

// Status returns the current registry record for the session.
func (c *Coordinator) Status(_ context.Context, id uuid.UUID) (*Session, error) {
	return c.reg.Get(id)
}

// List returns all sessions currently in the registry.
func (c *Coordinator) List(_ context.Context) []*Session {
	return c.reg.List()
}

// authorized loads the session and enforces ownership. Callers hold the
// per-session lock.
func (c *Coordinator) authorized(ctx context.Context, id uuid.UUID, callerID string) (*Session, error) {
	sess, err := c.reg.Get(id)
	if err != nil {
		return nil, err
	}
	owner, err := c.authz.IsOwner(ctx, callerID, id)
	if err != nil {
		return nil, fmt.Errorf("authorize caller: %w", err)
	}
	if !owner {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

func (c *Coordinator) publishLifecycle(transition string, sess *Session) {
	payload, err := json.Marshal(LifecyclePayload{
		Transition:  transition,
		SessionID:   sess.ID,
		OwnerID:     sess.OwnerID,
		EncounterID: sess.EncounterID,
		ChannelID:   sess.ChannelID,
		State:       sess.State,
		StartedAt:   sess.StartedAt,
		EndedAt:     sess.EndedAt,
		Settings:    sess.Settings,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sess.ID.String()).Msg("marshal lifecycle payload")
		return
	}
	if _, err := c.events.Publish(sess.ID, bus.KindLifecycle, payload); err != nil {
		c.logger.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Str("transition", transition).
			Msg("publish lifecycle event")
	}
}

// scheduleTeardown closes the topic and evicts the registry entry after
// the retention window. Callers hold the per-session lock.
func (c *Coordinator) scheduleTeardown(id uuid.UUID) {
	timer := time.AfterFunc(c.opts.Retention, func() {
		c.events.CloseTopic(id)
		c.reg.evict(id)
		c.dropLock(id)
	})
	c.mu.Lock()
	c.timers[id] = timer
	c.mu.Unlock()
}

// Close cancels pending teardown timers. Topic teardown itself is the
// bus's job on shutdown.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
}
