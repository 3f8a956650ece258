// Package gateway assembles the enforcement chain. Every proxied request
// passes, in order: correlation, audit capture, error normalization,
// authentication, role authorization, policy decision, budget guard, and
// finally the circuit-protected forwarder. Each stage either enriches the
// request context or terminates with a coded error; no stage bypasses the
// ones before it.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/audit"
	"aegis/internal/authz"
	"aegis/internal/budget"
	"aegis/internal/platform/config"
	"aegis/internal/policy"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// TokenValidator terminates bearer tokens. Satisfied by *identity.JWTService.
type TokenValidator interface {
	ValidateToken(token string) (domain.Identity, error)
}

// PolicyEvaluator queries the external decision engine. Satisfied by
// *policy.Client.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, query policy.Query) (*policy.Decision, error)
}

// BudgetGuard charges requests against the spend ledger. Satisfied by
// *budget.Service.
type BudgetGuard interface {
	Reserve(ctx context.Context, subject domain.SubjectID, tenant domain.TenantID) ([]budget.Snapshot, error)
}

// UsageReader reports trial task consumption. Satisfied by *budget.Service.
type UsageReader interface {
	UsageToday(ctx context.Context, subject domain.SubjectID) (int64, error)
}

// Forwarder is the terminal proxy stage. Satisfied by *proxy.Forwarder.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request) error
}

// HealthCheck reports readiness of one dependency.
type HealthCheck func(ctx context.Context) error

// Gateway owns the chain and its dependencies.
type Gateway struct {
	cfg        config.Config
	logger     *slog.Logger
	normalizer *Normalizer

	jwt       TokenValidator
	checker   *authz.Checker
	policy    PolicyEvaluator
	budget    BudgetGuard
	usage     UsageReader
	forwarder Forwarder

	sink       *audit.Sink
	auditStore audit.Store

	readiness map[string]HealthCheck
}

// Deps carries the gateway's collaborators. All are required except
// Readiness.
type Deps struct {
	JWT        TokenValidator
	Checker    *authz.Checker
	Policy     PolicyEvaluator
	Budget     BudgetGuard
	Usage      UsageReader
	Forwarder  Forwarder
	Sink       *audit.Sink
	AuditStore audit.Store
	Readiness  map[string]HealthCheck
}

// New wires the chain.
func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case deps.JWT == nil:
		return nil, fmt.Errorf("token validator is required")
	case deps.Checker == nil:
		return nil, fmt.Errorf("authz checker is required")
	case deps.Policy == nil:
		return nil, fmt.Errorf("policy evaluator is required")
	case deps.Budget == nil || deps.Usage == nil:
		return nil, fmt.Errorf("budget guard is required")
	case deps.Forwarder == nil:
		return nil, fmt.Errorf("forwarder is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("audit sink is required")
	case deps.AuditStore == nil:
		return nil, fmt.Errorf("audit store is required")
	}
	return &Gateway{
		cfg:        cfg,
		logger:     logger,
		normalizer: NewNormalizer(logger, cfg.IsProduction()),
		jwt:        deps.JWT,
		checker:    deps.Checker,
		policy:     deps.Policy,
		budget:     deps.Budget,
		usage:      deps.Usage,
		forwarder:  deps.Forwarder,
		sink:       deps.Sink,
		auditStore: deps.AuditStore,
		readiness:  deps.Readiness,
	}, nil
}

// Router builds the HTTP surface: public operational endpoints, the
// platform-admin trail reader, and the catch-all enforcement chain.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", g.handleHealthz)
	r.Get("/readyz", g.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	// Trail reader for operators. Runs the front of the chain (so access is
	// itself audited) but stops at the admin role gate instead of proxying.
	r.Group(func(r chi.Router) {
		r.Use(g.correlate, g.record, g.normalizer.Middleware, g.authenticate)
		r.Get("/internal/audit/records", g.handleAuditRecords)
	})

	r.Group(func(r chi.Router) {
		r.Use(
			g.correlate,
			g.record,
			g.normalizer.Middleware,
			g.authenticate,
			g.authorize,
			g.decide,
			g.guardBudget,
		)
		r.Handle("/*", http.HandlerFunc(g.handleProxy))
	})

	return r
}

func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request) {
	if err := g.forwarder.Forward(w, r); err != nil {
		g.normalizer.Respond(w, r, err)
	}
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleReadyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range g.readiness {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"failures": failures,
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuditRecords returns recent trail entries, or every entry for one
// correlation id. Platform administrators only.
func (g *Gateway) handleAuditRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := requestcontext.Identity(ctx)
	if !identity.HasRole(domain.RolePlatformAdmin) {
		g.normalizer.Respond(w, r, dErrors.New(dErrors.CodeForbidden,
			"audit trail access requires the platform-admin role"))
		return
	}

	if correlationID := r.URL.Query().Get("correlation_id"); correlationID != "" {
		records, err := g.auditStore.ListByCorrelation(ctx, correlationID)
		if err != nil {
			g.normalizer.Respond(w, r, dErrors.Wrap(err, dErrors.CodeInternal, "audit store read failed"))
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			g.normalizer.Respond(w, r, dErrors.New(dErrors.CodeBadRequest, "limit must be 1-1000"))
			return
		}
		limit = n
	}
	records, err := g.auditStore.ListRecent(ctx, limit)
	if err != nil {
		g.normalizer.Respond(w, r, dErrors.Wrap(err, dErrors.CodeInternal, "audit store read failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": records})
}
