package budget

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore implements Store with a single mutex over all windows.
// Suitable for single-instance deployments and tests; distributed
// deployments use the Redis store so instances share one ledger.
type InMemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

type counter struct {
	amount    int64
	count     int64
	expiresAt time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryClock overrides the time source for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemoryStore creates an empty in-memory ledger store.
func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ReserveAll holds the mutex across the whole check-then-increment, which
// makes the operation linearizable: racing requests serialize here.
func (s *InMemoryStore) ReserveAll(_ context.Context, reservations []Reservation) ([]ScopeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	results := make([]ScopeResult, len(reservations))
	allUnderCap := true

	for i, r := range reservations {
		current := s.liveCounter(r.Key, now)
		underCap := current.amount+r.Amount <= r.Cap
		results[i] = ScopeResult{Accepted: underCap, Total: current.amount, Cap: r.Cap}
		if !underCap {
			allUnderCap = false
		}
	}

	// All-or-nothing: any scope over cap means no scope is charged. The
	// per-scope Accepted flags still say which scope was over.
	if !allUnderCap {
		return results, nil
	}

	for i, r := range reservations {
		current := s.liveCounter(r.Key, now)
		if current.expiresAt.IsZero() {
			current.expiresAt = now.Add(r.TTL)
		}
		current.amount += r.Amount
		current.count++
		results[i].Total = current.amount
	}
	return results, nil
}

// Usage returns the live amount and count for a key.
func (s *InMemoryStore) Usage(_ context.Context, key string) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.liveCounter(key, s.now())
	return c.amount, c.count, nil
}

// liveCounter returns the counter for a key, discarding it first if its
// window has expired. Callers must hold the mutex.
func (s *InMemoryStore) liveCounter(key string, now time.Time) *counter {
	c, ok := s.counters[key]
	if ok && !c.expiresAt.IsZero() && now.After(c.expiresAt) {
		delete(s.counters, key)
		ok = false
	}
	if !ok {
		c = &counter{}
		s.counters[key] = c
	}
	return c
}
