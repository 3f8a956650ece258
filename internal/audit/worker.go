package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"aegis/internal/audit/metrics"
	"aegis/internal/platform/config"
)

// Worker drains the sink into the store in batches. A batch flushes when it
// reaches the configured size or when the flush interval elapses, whichever
// comes first. Failed batches are logged and counted but not retried: the
// trail tolerates loss under store outage, never request-path blocking.
type Worker struct {
	sink   *Sink
	store  Store
	cfg    config.AuditConfig
	logger *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

// NewWorker builds the batch writer.
func NewWorker(sink *Sink, store Store, cfg config.AuditConfig, opts ...WorkerOption) (*Worker, error) {
	if sink == nil {
		return nil, fmt.Errorf("audit sink is required")
	}
	if store == nil {
		return nil, fmt.Errorf("audit store is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	w := &Worker{sink: sink, store: store, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run flushes on the interval until ctx is cancelled, then drains what
// remains. Returns nil on clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return w.Drain()
		case <-ticker.C:
			w.flushAll(ctx)
		}
	}
}

// Drain writes everything still queued, bounded by the flush timeout. Called
// on shutdown after the HTTP server has stopped accepting requests.
func (w *Worker) Drain() error {
	timeout := w.cfg.FlushTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for w.sink.Len() > 0 {
		if err := ctx.Err(); err != nil {
			w.logger.Error("audit drain timed out", "remaining", w.sink.Len())
			return fmt.Errorf("audit drain: %w", err)
		}
		w.flushOnce(ctx)
	}
	return nil
}

func (w *Worker) flushAll(ctx context.Context) {
	// Keep flushing while full batches are available so a burst does not
	// wait out multiple ticks.
	for {
		n := w.flushOnce(ctx)
		if n < w.cfg.BatchSize {
			return
		}
	}
}

func (w *Worker) flushOnce(ctx context.Context) int {
	batch := w.sink.DequeueBatch(w.cfg.BatchSize)
	if len(batch) == 0 {
		return 0
	}

	writeCtx := ctx
	if w.cfg.FlushTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), w.cfg.FlushTimeout)
		defer cancel()
	}

	if err := w.store.AppendBatch(writeCtx, batch); err != nil {
		metrics.FlushFailures.Inc()
		w.logger.ErrorContext(ctx, "audit batch write failed",
			"batch_size", len(batch),
			"error", err)
		return len(batch)
	}
	metrics.Persisted.Add(float64(len(batch)))
	return len(batch)
}
