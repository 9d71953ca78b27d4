package core

// store.go holds the key-value stores behind sessions and jobs.
//
// Entries carry an optional deadline and stay usable up to and including it.
// An entry past its deadline is absent for Get even if its removal timer has
// not fired yet, so expiry does not depend on timer scheduling. Sweep removes
// anything overdue and is the safety net for stores that cannot rely on
// timers.

import (
	"sync"
	"time"
)

// Store is a key-value store with per-entry expiry.
type Store[V any] interface {
	// Get returns the value for key, or false if absent or expired.
	Get(key string) (V, bool)
	// Set stores value under key. ttl <= 0 means no deadline.
	Set(key string, value V, ttl time.Duration)
	// Delete removes key. Deleting an absent key is a no-op.
	Delete(key string)
	// Expire sets a new deadline for an existing key.
	// It reports false if the key is absent.
	Expire(key string, ttl time.Duration) bool
	// Sweep removes all expired entries and returns how many were removed.
	Sweep() int
	// Len returns the number of stored entries, expired or not.
	Len() int
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

type storeEntry[V any] struct {
	value    V
	deadline time.Time // zero means none
	timer    *time.Timer
}

func (e *storeEntry[V]) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// MemoryStore is an in-process Store. Removal timers are best-effort; Get
// checks deadlines itself.
type MemoryStore[V any] struct {
	mu      sync.Mutex
	entries map[string]*storeEntry[V]
	now     Clock
	onEvict func(key string, value V)
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption[V any] func(*MemoryStore[V])

// WithClock sets the time source used for deadlines.
func WithClock[V any](c Clock) MemoryStoreOption[V] {
	return func(s *MemoryStore[V]) { s.now = c }
}

// WithEvictHook is called, outside the lock, for every entry removed by
// expiry (timer or Sweep). Explicit Delete does not call it.
func WithEvictHook[V any](fn func(key string, value V)) MemoryStoreOption[V] {
	return func(s *MemoryStore[V]) { s.onEvict = fn }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore[V any](opts ...MemoryStoreOption[V]) *MemoryStore[V] {
	s := &MemoryStore[V]{
		entries: make(map[string]*storeEntry[V]),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (s *MemoryStore[V]) Set(key string, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	e := &storeEntry[V]{value: value}
	s.entries[key] = e
	s.schedule(key, e, ttl)
}

func (s *MemoryStore[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
}

func (s *MemoryStore[V]) Expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	s.schedule(key, e, ttl)
	return true
}

// schedule sets e's deadline and arms its removal timer. Caller holds s.mu.
func (s *MemoryStore[V]) schedule(key string, e *storeEntry[V], ttl time.Duration) {
	if ttl <= 0 {
		e.deadline = time.Time{}
		return
	}
	e.deadline = s.now().Add(ttl)
	e.timer = time.AfterFunc(ttl, func() { s.evict(key, e) })
}

// evict removes key if it still maps to e. A Set that replaced the entry
// since the timer was armed wins.
func (s *MemoryStore[V]) evict(key string, e *storeEntry[V]) {
	s.mu.Lock()
	cur, ok := s.entries[key]
	if !ok || cur != e {
		s.mu.Unlock()
		return
	}
	if now := s.now(); !e.expired(now) {
		e.timer = time.AfterFunc(e.deadline.Sub(now)+time.Millisecond, func() { s.evict(key, e) })
		s.mu.Unlock()
		return
	}
	delete(s.entries, key)
	s.mu.Unlock()

	if s.onEvict != nil {
		s.onEvict(key, e.value)
	}
}

func (s *MemoryStore[V]) Sweep() int {
	type evicted struct {
		key   string
		value V
	}

	s.mu.Lock()
	now := s.now()
	var removed []evicted
	for key, e := range s.entries {
		if e.expired(now) {
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(s.entries, key)
			removed = append(removed, evicted{key, e.value})
		}
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, r := range removed {
			s.onEvict(r.key, r.value)
		}
	}
	return len(removed)
}

func (s *MemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// SessionStore holds validation sessions keyed by session ID.
type SessionStore = Store[*Session]

// jobStore holds import jobs keyed by job ID.
type jobStore = Store[*jobRecord]
