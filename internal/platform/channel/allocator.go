// Package channel issues exclusive audio-channel identifiers to recording
// sessions. At most one non-released lease exists per channel id at any
// time; an id becomes reusable only after its lease is released.
package channel

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrLeaseNotFound is returned when releasing a channel id with no
	// active lease. A second release of the same lease fails with this
	// error rather than silently succeeding, so double-release bugs stay
	// observable.
	ErrLeaseNotFound = errors.New("channel lease not found")
	// ErrExhausted is returned when the allocator cannot find an unused
	// identifier. With UUID identifiers this is practically unreachable.
	ErrExhausted = errors.New("channel identifier space exhausted")
)

// maxAllocateAttempts bounds collision retries before reporting exhaustion.
const maxAllocateAttempts = 5

// Lease records exclusive use of a channel id by a session.
type Lease struct {
	ChannelID uuid.UUID `json:"channel_id"`
	SessionID uuid.UUID `json:"session_id"`
}

// Allocator hands out channel leases. Allocate and Release are
// linearizable with respect to each other: both take the same mutex, so a
// release is fully visible before any later allocate can reuse the id.
type Allocator struct {
	mu     sync.Mutex
	leases map[uuid.UUID]Lease
	newID  func() uuid.UUID
}

// NewAllocator creates an allocator backed by random UUID identifiers.
func NewAllocator() *Allocator {
	return &Allocator{
		leases: make(map[uuid.UUID]Lease),
		newID:  uuid.New,
	}
}

// NewAllocatorWithSource creates an allocator with a custom identifier
// source. Tests use this to force collisions.
func NewAllocatorWithSource(newID func() uuid.UUID) *Allocator {
	return &Allocator{
		leases: make(map[uuid.UUID]Lease),
		newID:  newID,
	}
}

// Allocate returns a channel id with no outstanding lease and records the
// session as its holder.
func (a *Allocator) Allocate(sessionID uuid.UUID) (uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < maxAllocateAttempts; i++ {
		id := a.newID()
		if _, taken := a.leases[id]; taken {
			continue
		}
		a.leases[id] = Lease{ChannelID: id, SessionID: sessionID}
		return id, nil
	}
	return uuid.Nil, ErrExhausted
}

// Release marks the channel id reusable. Releasing an id with no active
// lease, including a second release of the same lease, fails with
// ErrLeaseNotFound.
func (a *Allocator) Release(channelID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.leases[channelID]; !ok {
		return ErrLeaseNotFound
	}
	delete(a.leases, channelID)
	return nil
}

// Holder returns the session currently leasing the channel id.
func (a *Allocator) Holder(channelID uuid.UUID) (uuid.UUID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	lease, ok := a.leases[channelID]
	if !ok {
		return uuid.Nil, ErrLeaseNotFound
	}
	return lease.SessionID, nil
}

// Outstanding returns the number of active leases.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.leases)
}
