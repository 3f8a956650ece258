package audit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/platform/config"
)

func record(correlationID string) Record {
	return NewDraft(correlationID, "cause-1", "GET", "/v1/things").r
}

func TestSink_EnqueueDequeue(t *testing.T) {
	sink := NewSink(4, config.AuditDropOldest)

	for i := range 3 {
		assert.True(t, sink.Enqueue(record(fmt.Sprintf("c-%d", i))))
	}
	assert.Equal(t, 3, sink.Len())

	batch := sink.DequeueBatch(2)
	require.Len(t, batch, 2)
	assert.Equal(t, "c-0", batch[0].CorrelationID)
	assert.Equal(t, "c-1", batch[1].CorrelationID)
	assert.Equal(t, 1, sink.Len())

	batch = sink.DequeueBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, "c-2", batch[0].CorrelationID)
	assert.Nil(t, sink.DequeueBatch(10))
}

func TestSink_DropOldest(t *testing.T) {
	sink := NewSink(2, config.AuditDropOldest)

	assert.True(t, sink.Enqueue(record("c-0")))
	assert.True(t, sink.Enqueue(record("c-1")))
	assert.True(t, sink.Enqueue(record("c-2")), "drop_oldest always admits the new record")

	assert.Equal(t, int64(1), sink.Dropped())
	batch := sink.DequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "c-1", batch[0].CorrelationID, "oldest record was evicted")
	assert.Equal(t, "c-2", batch[1].CorrelationID)
}

func TestSink_RejectNew(t *testing.T) {
	sink := NewSink(2, config.AuditRejectNew)

	assert.True(t, sink.Enqueue(record("c-0")))
	assert.True(t, sink.Enqueue(record("c-1")))
	assert.False(t, sink.Enqueue(record("c-2")), "reject_new refuses when full")

	assert.Equal(t, int64(1), sink.Dropped())
	batch := sink.DequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "c-0", batch[0].CorrelationID, "existing records are kept")
}

func TestSink_WrapsAround(t *testing.T) {
	sink := NewSink(3, config.AuditDropOldest)

	// Cycle the buffer a few times past its capacity.
	for i := range 10 {
		sink.Enqueue(record(fmt.Sprintf("c-%d", i)))
		if i%2 == 1 {
			sink.DequeueBatch(1)
		}
	}

	batch := sink.DequeueBatch(10)
	for i := 1; i < len(batch); i++ {
		assert.Less(t, batch[i-1].CorrelationID, batch[i].CorrelationID, "FIFO order survives wrap-around")
	}
}
