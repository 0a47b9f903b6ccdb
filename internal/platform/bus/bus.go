// Package bus provides the in-process event bus for session-scoped
// fan-out. Each recording session gets one topic; events published to a
// topic are assigned a per-topic sequence number and delivered to every
// attached subscriber in sequence order. Publishers are never blocked by
// subscribers: a subscriber that cannot drain its buffer is forcibly
// detached with a slow-consumer signal.
package bus

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies the payload of an event.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindSuggestion    Kind = "suggestion"
	KindAlert         Kind = "alert"
	KindLifecycle     Kind = "lifecycle"
)

// ValidKind reports whether k is one of the event kinds the bus accepts.
func ValidKind(k Kind) bool {
	switch k {
	case KindTranscription, KindSuggestion, KindAlert, KindLifecycle:
		return true
	}
	return false
}

// Event is the envelope published to a topic. Payload is opaque to the bus.
type Event struct {
	SessionID  uuid.UUID       `json:"session_id"`
	Sequence   uint64          `json:"sequence"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

var (
	// ErrTopicClosed is returned when publishing or subscribing to a topic
	// whose session has ended and whose retention window has elapsed.
	ErrTopicClosed = errors.New("topic closed")
	// ErrSessionPaused is returned for non-lifecycle publishes to a paused
	// session when the bus is configured to block publishes while paused.
	ErrSessionPaused = errors.New("session paused")
)

// CloseReason explains why a subscription's event channel was closed.
type CloseReason string

const (
	ReasonUnsubscribed CloseReason = "unsubscribed"
	ReasonSlowConsumer CloseReason = "slow_consumer"
	ReasonTopicClosed  CloseReason = "topic_closed"
)

// Subscription is a handle to one attached subscriber. Events arrive on
// Events() in strictly increasing sequence order with no gaps or
// duplicates for as long as the subscription is attached. After the
// channel is closed, Reason() reports why.
type Subscription struct {
	ID        uuid.UUID
	SessionID uuid.UUID

	ch chan Event

	mu     sync.Mutex
	closed bool
	reason CloseReason
}

// Events returns the subscriber's delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Reason reports why the subscription was closed. It is meaningful only
// after the Events channel has been closed.
func (s *Subscription) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// close closes the delivery channel exactly once.
func (s *Subscription) close(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.ch)
}

// SubscribeOptions control how a subscription attaches to a topic.
type SubscribeOptions struct {
	// Replay requests delivery of up to Replay most recent retained events
	// before live events, with no gap and no duplicate across the
	// replay/live boundary. Zero means live-only.
	Replay int
}

// Options configure a Bus instance.
type Options struct {
	// SubscriberBuffer is the per-subscriber delivery buffer. When a
	// subscriber's buffer is full at publish time it is detached with
	// ReasonSlowConsumer.
	SubscriberBuffer int
	// ReplayDepth is the number of recent events retained per topic for
	// replay-on-subscribe. Zero disables replay.
	ReplayDepth int
	// PauseBlocksPublish makes non-lifecycle publishes to a paused session
	// fail with ErrSessionPaused instead of being delivered.
	PauseBlocksPublish bool
}

// topic is the fan-out unit for one session id. seq, subscribers and the
// replay ring are all guarded by mu so that replay-then-live attachment
// cannot race a concurrent publish.
type topic struct {
	mu        sync.Mutex
	sessionID uuid.UUID
	seq       uint64
	subs      map[uuid.UUID]*Subscription
	ring      []Event
	paused    bool
	closed    bool
}

// Bus is a per-process event bus. Construct one with New and pass it
// explicitly to the coordinator and transport adapters; there is no
// package-level instance.
type Bus struct {
	mu     sync.RWMutex
	topics map[uuid.UUID]*topic
	opts   Options

	lifecycleMu   sync.Mutex
	lifecycleSubs map[uuid.UUID]*Subscription
}

// New creates an event bus. Zero or negative option values fall back to
// defaults (256 buffer, 64 replay depth).
func New(opts Options) *Bus {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 256
	}
	if opts.ReplayDepth < 0 {
		opts.ReplayDepth = 0
	}
	return &Bus{
		topics:        make(map[uuid.UUID]*topic),
		opts:          opts,
		lifecycleSubs: make(map[uuid.UUID]*Subscription),
	}
}

// topicFor returns the topic for a session id, creating it lazily.
// Closed topics stay in the map as tombstones so late publishes and
// subscribes observe ErrTopicClosed instead of resurrecting the topic.
func (b *Bus) topicFor(sessionID uuid.UUID) *topic {
	b.mu.RLock()
	t, ok := b.topics[sessionID]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[sessionID]; ok {
		return t
	}
	t = &topic{
		sessionID: sessionID,
		subs:      make(map[uuid.UUID]*Subscription),
	}
	b.topics[sessionID] = t
	return t
}

// Publish envelopes the payload, assigns the next sequence number on the
// session's topic and fans the event out to all attached subscribers.
// It never blocks on subscriber delivery.
func (b *Bus) Publish(sessionID uuid.UUID, kind Kind, payload json.RawMessage) (uint64, error) {
	t := b.topicFor(sessionID)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrTopicClosed
	}
	if t.paused && kind != KindLifecycle && b.opts.PauseBlocksPublish {
		t.mu.Unlock()
		return 0, ErrSessionPaused
	}

	t.seq++
	evt := Event{
		SessionID:  sessionID,
		Sequence:   t.seq,
		Kind:       kind,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	if b.opts.ReplayDepth > 0 {
		t.ring = append(t.ring, evt)
		if len(t.ring) > b.opts.ReplayDepth {
			t.ring = t.ring[1:]
		}
	}

	var slow []*Subscription
	for _, sub := range t.subs {
		select {
		case sub.ch <- evt:
		default:
			// Buffer full: detach this subscriber rather than block the
			// publisher or degrade the others.
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		delete(t.subs, sub.ID)
	}
	t.mu.Unlock()

	for _, sub := range slow {
		sub.close(ReasonSlowConsumer)
	}

	if kind == KindLifecycle {
		b.fanOutLifecycle(evt)
	}

	return evt.Sequence, nil
}

// Subscribe attaches a new subscriber to the session's topic. With
// opts.Replay > 0 the most recent retained events are queued ahead of
// live delivery; replay is capped at both the retained depth and the
// subscriber buffer.
func (b *Bus) Subscribe(sessionID uuid.UUID, opts SubscribeOptions) (*Subscription, error) {
	t := b.topicFor(sessionID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTopicClosed
	}

	sub := &Subscription{
		ID:        uuid.New(),
		SessionID: sessionID,
		ch:        make(chan Event, b.opts.SubscriberBuffer),
	}

	if opts.Replay > 0 && len(t.ring) > 0 {
		n := opts.Replay
		if n > len(t.ring) {
			n = len(t.ring)
		}
		if n > b.opts.SubscriberBuffer {
			n = b.opts.SubscriberBuffer
		}
		for _, evt := range t.ring[len(t.ring)-n:] {
			sub.ch <- evt
		}
	}

	t.subs[sub.ID] = sub
	return sub, nil
}

// Unsubscribe detaches a subscription and closes its channel. Other
// subscribers and in-flight publishes are unaffected. Detaching an
// already-detached subscription is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	if sub.SessionID == uuid.Nil {
		b.lifecycleMu.Lock()
		delete(b.lifecycleSubs, sub.ID)
		b.lifecycleMu.Unlock()
		sub.close(ReasonUnsubscribed)
		return
	}

	b.mu.RLock()
	t, ok := b.topics[sub.SessionID]
	b.mu.RUnlock()
	if ok {
		t.mu.Lock()
		delete(t.subs, sub.ID)
		t.mu.Unlock()
	}
	sub.close(ReasonUnsubscribed)
}

// SetPaused marks the session's topic paused or resumed. While paused,
// non-lifecycle publishes fail with ErrSessionPaused if the bus was
// configured with PauseBlocksPublish.
func (b *Bus) SetPaused(sessionID uuid.UUID, paused bool) {
	t := b.topicFor(sessionID)
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

// CloseTopic tears down the session's topic: all subscribers are closed
// with ReasonTopicClosed, retained events are dropped, and further
// publishes and subscribes fail with ErrTopicClosed.
func (b *Bus) CloseTopic(sessionID uuid.UUID) {
	t := b.topicFor(sessionID)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub)
	}
	t.subs = make(map[uuid.UUID]*Subscription)
	t.ring = nil
	t.mu.Unlock()

	for _, sub := range subs {
		sub.close(ReasonTopicClosed)
	}
}

// SubscribeLifecycle attaches a bus-wide subscriber that receives every
// lifecycle event regardless of session. The audit and persistence sinks
// use this tap. Sequence numbers on the delivered events are the
// per-topic sequences of their originating sessions.
func (b *Bus) SubscribeLifecycle() *Subscription {
	sub := &Subscription{
		ID: uuid.New(),
		ch: make(chan Event, b.opts.SubscriberBuffer),
	}
	b.lifecycleMu.Lock()
	b.lifecycleSubs[sub.ID] = sub
	b.lifecycleMu.Unlock()
	return sub
}

func (b *Bus) fanOutLifecycle(evt Event) {
	b.lifecycleMu.Lock()
	var slow []*Subscription
	for _, sub := range b.lifecycleSubs {
		select {
		case sub.ch <- evt:
		default:
			slow = append(slow, sub)
		}
	}
	for _, sub := range slow {
		delete(b.lifecycleSubs, sub.ID)
	}
	b.lifecycleMu.Unlock()

	for _, sub := range slow {
		sub.close(ReasonSlowConsumer)
	}
}

// SubscriberCount returns the number of subscribers attached to the
// session's topic.
func (b *Bus) SubscriberCount(sessionID uuid.UUID) int {
	b.mu.RLock()
	t, ok := b.topics[sessionID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close tears down every topic and the lifecycle tap. Used on server
// shutdown.
func (b *Bus) Close() {
	b.mu.Lock()
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		b.CloseTopic(t.sessionID)
	}

	b.lifecycleMu.Lock()
	subs := make([]*Subscription, 0, len(b.lifecycleSubs))
	for _, sub := range b.lifecycleSubs {
		subs = append(subs, sub)
	}
	b.lifecycleSubs = make(map[uuid.UUID]*Subscription)
	b.lifecycleMu.Unlock()

	for _, sub := range subs {
		sub.close(ReasonTopicClosed)
	}
}
