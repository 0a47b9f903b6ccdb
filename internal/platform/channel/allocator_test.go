package channel

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestAllocate_DistinctIDs(t *testing.T) {
	a := NewAllocator()
	sid := uuid.New()

	c1, err := a.Allocate(sid)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	c2, err := a.Allocate(sid)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("two outstanding leases share channel id %s", c1)
	}
}

func TestRelease_SecondReleaseFails(t *testing.T) {
	a := NewAllocator()

	id, err := a.Allocate(uuid.New())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	if err := a.Release(id); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if err := a.Release(id); !errors.Is(err, ErrLeaseNotFound) {
		t.Fatalf("expected ErrLeaseNotFound on double release, got %v", err)
	}
}

func TestRelease_UnknownIDFails(t *testing.T) {
	a := NewAllocator()
	if err := a.Release(uuid.New()); !errors.Is(err, ErrLeaseNotFound) {
		t.Fatalf("expected ErrLeaseNotFound, got %v", err)
	}
}

func TestHolder_TracksLeaseOwner(t *testing.T) {
	a := NewAllocator()
	sid := uuid.New()

	id, _ := a.Allocate(sid)
	holder, err := a.Holder(id)
	if err != nil {
		t.Fatalf("holder: %v", err)
	}
	if holder != sid {
		t.Fatalf("expected holder %s, got %s", sid, holder)
	}
}

// Channel exclusivity under concurrent allocate/release churn: no two
// outstanding leases may ever share an id.
func TestAllocate_ConcurrentExclusivity(t *testing.T) {
	a := NewAllocator()

	const workers = 8
	const perWorker = 200

	var mu sync.Mutex
	held := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := a.Allocate(uuid.New())
				if err != nil {
					t.Errorf("allocate: %v", err)
					return
				}

				mu.Lock()
				held[id]++
				if held[id] > 1 {
					mu.Unlock()
					t.Errorf("channel id %s held by more than one lease", id)
					return
				}
				mu.Unlock()

				if i%2 == 0 {
					mu.Lock()
					delete(held, id)
					mu.Unlock()
					if err := a.Release(id); err != nil {
						t.Errorf("release: %v", err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	if a.Outstanding() != len(held) {
		t.Fatalf("allocator reports %d leases, test tracked %d", a.Outstanding(), len(held))
	}
}

func TestAllocate_ExhaustionWithCollidingSource(t *testing.T) {
	fixed := uuid.New()
	a := NewAllocatorWithSource(func() uuid.UUID { return fixed })

	if _, err := a.Allocate(uuid.New()); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, err := a.Allocate(uuid.New()); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestAllocate_ReuseAfterRelease(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	calls := 0
	a := NewAllocatorWithSource(func() uuid.UUID {
		id := ids[calls%len(ids)]
		calls++
		return id
	})

	c1, _ := a.Allocate(uuid.New())
	if err := a.Release(c1); err != nil {
		t.Fatalf("release: %v", err)
	}

	// The released id must be allocatable again.
	c2, err := a.Allocate(uuid.New())
	if err != nil {
		t.Fatalf("allocate after release: %v", err)
	}
	if c2 != ids[1] && c2 != ids[0] {
		t.Fatalf("unexpected id %s", c2)
	}
}
