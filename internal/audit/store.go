package audit

import "context"

// Store persists audit records. AppendBatch is all-or-nothing per call: the
// worker re-reports the whole batch as a flush failure when it errors.
type Store interface {
	AppendBatch(ctx context.Context, records []Record) error
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error)
}
