package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"aegis/internal/budget/metrics"
	"aegis/internal/platform/config"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

// Service is the budget guard's ledger front. Charging is optimistic:
// the spend is committed on attempt, not on backend success, so repeated
// failed calls cannot bypass the cap.
type Service struct {
	store  Store
	cfg    config.BudgetConfig
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService builds the budget service.
func NewService(store Store, cfg config.BudgetConfig, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("budget store is required")
	}
	s := &Service{store: store, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reserve charges one request against both scopes atomically. Either both
// the agent's daily window and the tenant's monthly window are charged, or
// neither is. On denial the returned error carries the cap, the spend, and
// the window's reset time so the caller can compute a retry-after.
//
// Ledger unavailability is reported as sentinel.ErrUnavailable inside the
// returned error; the guard stage applies the configured fail mode.
func (s *Service) Reserve(ctx context.Context, subject domain.SubjectID, tenant domain.TenantID) ([]Snapshot, error) {
	now := requestcontext.Now(ctx)
	agentWin := agentDayWindow(subject, now, s.cfg.WindowGrace)
	tenantWin := tenantMonthWindow(tenant, now, s.cfg.WindowGrace)

	results, err := s.store.ReserveAll(ctx, []Reservation{
		{Key: agentWin.key, Amount: s.cfg.ChargePerRequestCents, Cap: s.cfg.AgentDailyCapCents, TTL: agentWin.ttl},
		{Key: tenantWin.key, Amount: s.cfg.ChargePerRequestCents, Cap: s.cfg.TenantMonthlyCapCents, TTL: tenantWin.ttl},
	})
	if err != nil {
		metrics.LedgerErrors.Inc()
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "budget ledger unreachable", "error", err)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "budget ledger unavailable")
	}

	snapshots := []Snapshot{
		{Scope: ScopeAgent, WindowKey: agentWin.key, Spent: results[0].Total, Cap: results[0].Cap, ResetAt: agentWin.resetAt},
		{Scope: ScopeTenant, WindowKey: tenantWin.key, Spent: results[1].Total, Cap: results[1].Cap, ResetAt: tenantWin.resetAt},
	}

	// Agent scope checked first: when both caps are blown the narrower
	// (agent) denial is the one the caller can act on soonest.
	if !results[0].Accepted {
		metrics.Denials.WithLabelValues(ScopeAgent).Inc()
		return snapshots, dErrors.New(dErrors.CodeBudgetExceeded,
			fmt.Sprintf("agent daily budget exhausted: spent %d of %d cents", results[0].Total, results[0].Cap)).
			WithRetryAfter(retryAfterSeconds(now, agentWin.resetAt))
	}
	if !results[1].Accepted {
		metrics.Denials.WithLabelValues(ScopeTenant).Inc()
		return snapshots, dErrors.New(dErrors.CodePlatformBudgetExceeded,
			fmt.Sprintf("tenant monthly budget exhausted: spent %d of %d cents", results[1].Total, results[1].Cap)).
			WithRetryAfter(retryAfterSeconds(now, tenantWin.resetAt))
	}

	return snapshots, nil
}

// UsageToday returns how many operations the subject has charged in the
// current daily window. The policy stage includes this in trial-mode
// queries so the engine can enforce a per-day task quota independent of
// the dollar budget.
func (s *Service) UsageToday(ctx context.Context, subject domain.SubjectID) (int64, error) {
	win := agentDayWindow(subject, requestcontext.Now(ctx), s.cfg.WindowGrace)
	_, count, err := s.store.Usage(ctx, win.key)
	if err != nil {
		metrics.LedgerErrors.Inc()
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "budget ledger unavailable")
	}
	return count, nil
}

// Unavailable reports whether the error stems from an unreachable ledger
// rather than an exhausted budget.
func Unavailable(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}

func retryAfterSeconds(now, resetAt time.Time) int {
	return int(resetAt.Sub(now).Seconds()) + 1
}
