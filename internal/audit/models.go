// Package audit produces the tamper-evident trail: exactly one record per
// completed request, success or failure, enqueued to an asynchronous batched
// writer that never blocks the request path.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/domain"
)

// Decision outcomes recorded per request. DecisionUnavailable is distinct
// from DecisionDenied so operators can separate infrastructure failure from
// legitimate denial when reading the trail.
const (
	DecisionAllowed     = "allowed"
	DecisionDenied      = "denied"
	DecisionUnavailable = "unavailable"
	// DecisionSkipped marks requests that never reached the policy stage
	// (failed authentication, unknown route).
	DecisionSkipped = "skipped"
)

// Record is one append-only audit entry. Never mutated after creation;
// retention is the durable store's concern.
type Record struct {
	ID            uuid.UUID `json:"id"`
	CorrelationID string    `json:"correlation_id"`
	CausationID   string    `json:"causation_id"`
	Timestamp     time.Time `json:"timestamp"`

	SubjectID domain.SubjectID `json:"subject_id"`
	TenantID  domain.TenantID  `json:"tenant_id"`
	Roles     []string         `json:"roles,omitempty"`
	Governor  bool             `json:"governor,omitempty"`
	TrialMode bool             `json:"trial_mode,omitempty"`

	Method     string `json:"method"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`

	Decision       string `json:"decision"`
	DecisionReason string `json:"decision_reason,omitempty"`
	RouteOverride  string `json:"route_override,omitempty"`

	BudgetSpentCents int64  `json:"budget_spent_cents,omitempty"`
	BudgetCapCents   int64  `json:"budget_cap_cents,omitempty"`
	BudgetWindowKey  string `json:"budget_window_key,omitempty"`

	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Draft accumulates a record while the request runs the chain. Stages append
// what they learn; the audit stage finalizes exactly one Record per request
// no matter which stage terminated the pipeline.
type Draft struct {
	mu sync.Mutex
	r  Record
}

// NewDraft starts a draft for one request.
func NewDraft(correlationID, causationID, method, path string) *Draft {
	return &Draft{r: Record{
		ID:            uuid.New(),
		CorrelationID: correlationID,
		CausationID:   causationID,
		Method:        method,
		Path:          path,
		Decision:      DecisionSkipped,
	}}
}

// SetIdentity records who made the request.
func (d *Draft) SetIdentity(identity domain.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.SubjectID = identity.Subject
	d.r.TenantID = identity.Tenant
	d.r.Roles = identity.Roles
	d.r.Governor = identity.Governor
	d.r.TrialMode = identity.TrialMode
}

// SetDecision records the policy outcome. Called at most once per request:
// the decision stage evaluates exactly once.
func (d *Draft) SetDecision(decision, reason, routeOverride string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.Decision = decision
	d.r.DecisionReason = reason
	d.r.RouteOverride = routeOverride
}

// SetBudget records the agent-scope budget snapshot after the guard ran.
func (d *Draft) SetBudget(spent, cap int64, windowKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.BudgetSpentCents = spent
	d.r.BudgetCapCents = cap
	d.r.BudgetWindowKey = windowKey
}

// SetError records the terminal error, if any.
func (d *Draft) SetError(errorType, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.ErrorType = errorType
	d.r.ErrorMessage = message
}

// Finalize stamps the outcome and returns the immutable record.
func (d *Draft) Finalize(now time.Time, statusCode int, duration time.Duration) Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.r.Timestamp = now
	d.r.StatusCode = statusCode
	d.r.DurationMS = duration.Milliseconds()
	return d.r
}

type draftKey struct{}

// WithDraft injects the request's audit draft into the context.
func WithDraft(ctx context.Context, draft *Draft) context.Context {
	return context.WithValue(ctx, draftKey{}, draft)
}

// DraftFrom retrieves the request's audit draft. Nil outside the chain.
func DraftFrom(ctx context.Context) *Draft {
	draft, _ := ctx.Value(draftKey{}).(*Draft)
	return draft
}
