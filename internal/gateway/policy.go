package gateway

import (
	"net/http"
	"time"

	"aegis/internal/audit"
	"aegis/internal/authz"
	"aegis/internal/budget"
	"aegis/internal/policy"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

// decide queries the policy engine exactly once per request and acts on the
// answer. The decision is stamped into the audit draft before the chain
// continues, so the record and the enforcement can never diverge.
//
// Engine outage is deny-by-default: only the explicit fail-open override
// (refused in production by config validation) lets requests through, and
// every such pass is logged as a warning.
func (g *Gateway) decide(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity := requestcontext.Identity(ctx)
		route := authz.RouteFrom(ctx)
		draft := audit.DraftFrom(ctx)

		query := policy.Query{
			Subject:          identity.Subject,
			Roles:            identity.Roles,
			Tenant:           identity.Tenant,
			Action:           r.Method,
			Resource:         r.URL.Path,
			TrialMode:        identity.TrialMode,
			Governor:         identity.Governor,
			RequiresGovernor: route.RequiresGovernor,
		}
		if identity.TrialMode {
			// Trial accounts carry a per-day task quota the engine enforces;
			// an unreadable counter reads as zero rather than blocking the
			// whole decision.
			usage, err := g.usage.UsageToday(ctx, identity.Subject)
			if err != nil {
				g.logger.WarnContext(ctx, "trial usage lookup failed, reporting zero",
					"subject", identity.Subject, "error", err)
			}
			query.UsageToday = usage
		}

		decision, err := g.policy.Evaluate(ctx, query)
		if err != nil {
			if g.cfg.Policy.FailOpen {
				g.logger.WarnContext(ctx, "POLICY ENGINE UNREACHABLE, failing open",
					"subject", identity.Subject,
					"resource", r.URL.Path,
					"error", err)
				if draft != nil {
					draft.SetDecision(audit.DecisionUnavailable, "engine unreachable, fail-open override", "")
				}
				next.ServeHTTP(w, r)
				return
			}
			if draft != nil {
				draft.SetDecision(audit.DecisionUnavailable, "engine unreachable, failed closed", "")
			}
			g.normalizer.Respond(w, r, dErrors.Wrap(err, dErrors.CodePolicyUnavailable,
				"policy engine unavailable"))
			return
		}

		if !decision.Allowed {
			if draft != nil {
				draft.SetDecision(audit.DecisionDenied, decision.Reason, "")
			}
			// Quota denials are rate limits, not prohibitions: the same
			// request succeeds after the daily window resets, so they get
			// 429 and a retry hint instead of a bare 403.
			if decision.QuotaExhausted() {
				g.normalizer.Respond(w, r, dErrors.New(dErrors.CodeQuotaExceeded, decision.Reason).
					WithObligations(decision.Obligations).
					WithRetryAfter(secondsUntilNextDay(requestcontext.Now(ctx))))
				return
			}
			g.normalizer.Respond(w, r, dErrors.New(dErrors.CodePolicyDenied, decision.Reason).
				WithObligations(decision.Obligations))
			return
		}

		override := decision.RouteOverride()
		if draft != nil {
			draft.SetDecision(audit.DecisionAllowed, decision.Reason, override)
		}
		if override != "" {
			ctx = requestcontext.WithRouteTarget(ctx, override)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// secondsUntilNextDay returns the seconds until the next UTC midnight, when
// daily quotas and budgets reset.
func secondsUntilNextDay(now time.Time) int {
	now = now.UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return int(reset.Sub(now).Seconds()) + 1
}

// guardBudget charges the request against both spend scopes before it may
// proceed. The charge lands on attempt, not on success: a caller hammering a
// failing backend spends budget doing it.
func (g *Gateway) guardBudget(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity := requestcontext.Identity(ctx)
		draft := audit.DraftFrom(ctx)

		snapshots, err := g.budget.Reserve(ctx, identity.Subject, identity.Tenant)
		for _, snap := range snapshots {
			if snap.Scope == budget.ScopeAgent && draft != nil {
				draft.SetBudget(snap.Spent, snap.Cap, snap.WindowKey)
			}
		}
		if err != nil {
			if budget.Unavailable(err) && g.cfg.Budget.FailOpen {
				g.logger.WarnContext(ctx, "BUDGET LEDGER UNREACHABLE, failing open",
					"subject", identity.Subject,
					"error", err)
				next.ServeHTTP(w, r)
				return
			}
			g.normalizer.Respond(w, r, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}
