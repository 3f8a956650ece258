// Package budget enforces spend caps: a per-agent daily cap and a per-tenant
// monthly cap. The two scopes are charged as a single logical unit through
// one atomic increment-if-under-cap operation, so partial charges can never
// happen and concurrent requests can never overshoot a cap.
package budget

import (
	"fmt"
	"time"

	"aegis/pkg/domain"
)

// Scope names used in window keys, metrics labels, and audit records.
const (
	ScopeAgent  = "agent"
	ScopeTenant = "tenant"
)

// Snapshot is the post-charge view of one scope's window, carried in audit
// records and in denial responses (cap, spend, and when the window resets).
type Snapshot struct {
	Scope     string    `json:"scope"`
	WindowKey string    `json:"window_key"`
	Spent     int64     `json:"spent_cents"`
	Cap       int64     `json:"cap_cents"`
	ResetAt   time.Time `json:"reset_at"`
}

// window is a charge window: its ledger key, when it resets, and how long
// the counter survives past reset (grace for late audit reads).
type window struct {
	key     string
	resetAt time.Time
	ttl     time.Duration
}

// agentDayWindow computes the agent's daily window. Windows are UTC-aligned:
// the day boundary is midnight UTC regardless of caller locale.
func agentDayWindow(subject domain.SubjectID, now time.Time, grace time.Duration) window {
	now = now.UTC()
	day := now.Format("2006-01-02")
	reset := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return window{
		key:     fmt.Sprintf("budget:%s:%s:day:%s", ScopeAgent, subject, day),
		resetAt: reset,
		ttl:     reset.Sub(now) + grace,
	}
}

// tenantMonthWindow computes the tenant's monthly window.
func tenantMonthWindow(tenant domain.TenantID, now time.Time, grace time.Duration) window {
	now = now.UTC()
	month := now.Format("2006-01")
	reset := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return window{
		key:     fmt.Sprintf("budget:%s:%s:month:%s", ScopeTenant, tenant, month),
		resetAt: reset,
		ttl:     reset.Sub(now) + grace,
	}
}
