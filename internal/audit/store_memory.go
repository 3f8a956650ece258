package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps records in process memory. Single-instance deployments
// and tests; everything is lost on restart.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) AppendBatch(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.records) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Record, len(s.records)-start)
	// Most recent first, matching the durable store's ordering.
	for i := range out {
		out[i] = s.records[len(s.records)-1-i]
	}
	return out, nil
}

func (s *InMemoryStore) ListByCorrelation(_ context.Context, correlationID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if r.CorrelationID == correlationID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Len reports how many records have been persisted.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
