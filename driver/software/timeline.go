package software

import (
	"context"
	"sync"
)

// timeline is a host-side monotonic counter with blocking waits.
type timeline struct {
	mu      sync.Mutex
	value   uint64
	waiters []waiter
}

type waiter struct {
	target uint64
	done   chan struct{}
}

func newTimeline(initial uint64) *timeline {
	return &timeline{value: initial}
}

// Value implements driver.Timeline.
func (t *timeline) Value() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value
}

// Wait implements driver.Timeline.
func (t *timeline) Wait(ctx context.Context, target uint64) error {
	t.mu.Lock()
	if t.value >= target {
		t.mu.Unlock()
		return nil
	}
	w := waiter{target: target, done: make(chan struct{})}
	t.waiters = append(t.waiters, w)
	t.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signal raises the counter to value (monotonic; lower values are
// ignored) and releases every waiter whose target is reached.
func (t *timeline) signal(value uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if value <= t.value {
		return
	}
	t.value = value

	remaining := t.waiters[:0]
	for _, w := range t.waiters {
		if w.target <= value {
			close(w.done)
		} else {
			remaining = append(remaining, w)
		}
	}
	t.waiters = remaining
}
