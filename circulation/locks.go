package circulation

import (
	"context"
	"sync"
	"time"
)

// keyedLocks hands out one mutual-exclusion slot per key with bounded acquisition.
// Slots are buffered channels of size one so that acquisition can time out.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]chan struct{})}
}

func (k *keyedLocks) slot(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()

	slot, ok := k.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		k.slots[key] = slot
	}

	return slot
}

// acquire blocks until the key is free, the timeout elapses (ErrContention) or ctx is done.
// The returned func releases the key and must be called exactly once.
func (k *keyedLocks) acquire(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	slot := k.slot(key)

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-timer.C:
		return nil, ErrContention
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lockSet holds the critical sections of one operation, taken book first, then member.
type lockSet struct {
	release []func()
}

func (s *lockSet) unlock() {
	for i := len(s.release) - 1; i >= 0; i-- {
		s.release[i]()
	}

	s.release = nil
}

func (e *Engine) lock(ctx context.Context, bookID BookIDString, memberID MemberIDString) (*lockSet, error) {
	set := &lockSet{}

	if bookID != "" {
		release, err := e.bookLocks.acquire(ctx, bookID, e.lockTimeout)
		if err != nil {
			return nil, err
		}

		set.release = append(set.release, release)
	}

	if memberID != "" {
		release, err := e.memberLocks.acquire(ctx, memberID, e.lockTimeout)
		if err != nil {
			set.unlock()
			return nil, err
		}

		set.release = append(set.release, release)
	}

	return set, nil
}
