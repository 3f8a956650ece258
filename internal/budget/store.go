package budget

import (
	"context"
	"time"
)

// Reservation is one scope's share of an atomic charge.
type Reservation struct {
	Key    string
	Amount int64
	Cap    int64
	// TTL is set on first write of a new window (lazy creation); the window
	// then expires on its own at boundary + grace.
	TTL time.Duration
}

// ScopeResult reports one scope's outcome from ReserveAll. When the charge
// was rejected, Total is the uncharged current total; when accepted, the
// post-charge total.
type ScopeResult struct {
	Accepted bool
	Total    int64
	Cap      int64
}

// Store is the counter store behind the ledger. Implementations must make
// ReserveAll a single atomic operation: the check and the increment may not
// be a read-then-write pair, or two concurrent requests could both observe
// "under cap" and overshoot it.
type Store interface {
	// ReserveAll applies every reservation or none: if any key would exceed
	// its cap, no key is incremented and the per-scope results say which
	// scopes were over. Linearizable per key set.
	ReserveAll(ctx context.Context, reservations []Reservation) ([]ScopeResult, error)

	// Usage returns the current charged amount and operation count for a key.
	// A missing key reads as zero (window not yet created).
	Usage(ctx context.Context, key string) (amount, count int64, err error)
}
