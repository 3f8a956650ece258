package audit

import (
	"sync"

	"aegis/internal/audit/metrics"
	"aegis/internal/platform/config"
)

// Sink is the bounded, thread-safe queue between the request path and the
// batch writer. Enqueue never blocks: when the queue is full the configured
// policy decides whether the oldest record is evicted (drop_oldest) or the
// new one is refused (reject_new). Either way the request proceeds; audit
// backpressure must not take the gateway down with it.
type Sink struct {
	mu       sync.Mutex
	records  []Record
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int

	dropOldest bool
	dropped    int64
}

// NewSink creates a sink with the given capacity and full-queue policy.
func NewSink(capacity int, fullPolicy string) *Sink {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Sink{
		records:    make([]Record, capacity),
		capacity:   capacity,
		dropOldest: fullPolicy != config.AuditRejectNew,
	}
}

// Enqueue adds a record, applying the full-queue policy. Returns false when
// the record was not admitted (reject_new on a full queue).
func (s *Sink) Enqueue(record Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count >= s.capacity {
		if !s.dropOldest {
			s.dropped++
			metrics.Dropped.WithLabelValues("reject_new").Inc()
			return false
		}
		s.tail = (s.tail + 1) % s.capacity
		s.count--
		s.dropped++
		metrics.Dropped.WithLabelValues("drop_oldest").Inc()
	}

	s.records[s.head] = record
	s.head = (s.head + 1) % s.capacity
	s.count++
	metrics.QueueDepth.Set(float64(s.count))
	return true
}

// DequeueBatch removes up to n records from the queue.
func (s *Sink) DequeueBatch(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}
	if n > s.count {
		n = s.count
	}

	batch := make([]Record, n)
	for i := range n {
		batch[i] = s.records[s.tail]
		s.tail = (s.tail + 1) % s.capacity
	}
	s.count -= n
	metrics.QueueDepth.Set(float64(s.count))
	return batch
}

// Len returns the current queue depth.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Dropped returns the total number of records lost to the full-queue policy.
func (s *Sink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
