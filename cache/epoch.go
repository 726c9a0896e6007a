// Package cache provides an epoch-clocked lifetime tracker for transient
// resources. Entries age by logical ticks instead of wall time: every
// scheduling round advances the clock once, and an entry whose last use
// lies more than its timeout behind the clock is handed back to the
// caller for eviction.
package cache

import (
	"errors"
	"sync/atomic"
)

// Default configuration constants.
const (
	// DefaultTimeout is the number of epochs an unused entry survives
	// before eviction. At 31 ticks a resource used every other frame (or
	// even every thirtieth frame) is reliably reused instead of
	// reallocated, while abandoned scratch memory is reclaimed within
	// about half a second at 60 rounds per second.
	DefaultTimeout = 31
)

// ErrExists is returned when a key is registered twice.
var ErrExists = errors.New("cache: resource already tracked")

// entry records when a key was last used and how long it may idle.
type entry struct {
	lastUse uint64
	timeout uint64
}

// timeoutEpoch returns the first epoch in which the entry has expired.
func (e entry) timeoutEpoch() uint64 {
	return e.lastUse + e.timeout
}

// Clock tracks transient keys against a logical epoch counter.
//
// Clock is not safe for concurrent use; the scheduler drives it from a
// single goroutine, once per round.
type Clock[K comparable] struct {
	epoch   uint64
	entries map[K]entry

	// Statistics (atomic for zero-allocation reads).
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates an empty clock at epoch zero.
func New[K comparable]() *Clock[K] {
	return &Clock[K]{
		entries: make(map[K]entry),
	}
}

// Register begins tracking key with the given timeout in epochs.
// A timeout of zero means DefaultTimeout.
// Returns ErrExists if the key is already tracked.
func (c *Clock[K]) Register(key K, timeout uint64) error {
	if _, ok := c.entries[key]; ok {
		return ErrExists
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c.entries[key] = entry{lastUse: c.epoch, timeout: timeout}
	return nil
}

// Touch marks key as used in the current epoch, resetting its idle age.
// Returns false if the key is not tracked.
func (c *Clock[K]) Touch(key K) bool {
	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return false
	}
	e.lastUse = c.epoch
	c.entries[key] = e
	c.hits.Add(1)
	return true
}

// Forget stops tracking key without counting an eviction.
// Returns true if the key was tracked.
func (c *Clock[K]) Forget(key K) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Tick advances the epoch by one and returns every key whose idle time
// reached its timeout. Returned keys are removed from tracking; actually
// releasing the underlying resources is the caller's job.
func (c *Clock[K]) Tick() []K {
	c.epoch++

	var evicted []K
	for key, e := range c.entries {
		if c.epoch >= e.timeoutEpoch() {
			evicted = append(evicted, key)
		}
	}
	for _, key := range evicted {
		delete(c.entries, key)
		c.evictions.Add(1)
	}
	return evicted
}

// Each calls fn for every tracked key. Iteration order is unspecified.
// fn must not mutate the clock.
func (c *Clock[K]) Each(fn func(key K)) {
	for key := range c.entries {
		fn(key)
	}
}

// Tracked reports whether key is currently tracked.
func (c *Clock[K]) Tracked(key K) bool {
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of tracked keys.
func (c *Clock[K]) Len() int {
	return len(c.entries)
}

// Epoch returns the current epoch.
func (c *Clock[K]) Epoch() uint64 {
	return c.epoch
}

// Stats holds clock statistics.
type Stats struct {
	Len       int
	Epoch     uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Stats returns current statistics. Mostly lock-free (atomic counters).
func (c *Clock[K]) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Epoch:     c.epoch,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
