// Package proxy forwards approved requests to their backend, guarded by a
// per-backend circuit breaker. When a backend is short-circuited, safe
// requests may be answered from a bounded last-known-good cache; everything
// else is refused with a retry hint instead of piling onto a failing
// service.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/internal/authz"
	"aegis/internal/platform/config"
	"aegis/internal/proxy/metrics"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/circuit"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Identity headers forwarded to backends. The gateway terminates the bearer
// token; backends trust these headers on the private network.
const (
	HeaderSubject = "X-Aegis-Subject"
	HeaderTenant  = "X-Aegis-Tenant"
	HeaderRoles   = "X-Aegis-Roles"

	// HeaderStale marks a response replayed from the fallback cache.
	HeaderStale = "X-Aegis-Stale"
)

// maxCachedBody bounds what the fallback cache will hold per entry.
const maxCachedBody = 1 << 20

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// BackendResolver supplies the current routing snapshot. Satisfied by
// *authz.Checker.
type BackendResolver interface {
	Snapshot() *authz.Snapshot
}

// Forwarder is the terminal stage of the chain.
type Forwarder struct {
	resolver BackendResolver
	client   *http.Client
	cfg      config.BreakerConfig
	cache    *FallbackCache
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
	clock    func() time.Time
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the upstream HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Forwarder) {
		if client != nil {
			f.client = client
		}
	}
}

// WithLogger sets the forwarder logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock overrides the time source for tests. Applies to breakers and
// the fallback cache created by the forwarder.
func WithClock(now func() time.Time) Option {
	return func(f *Forwarder) {
		if now != nil {
			f.clock = now
		}
	}
}

// NewForwarder builds the circuit-protected proxy.
func NewForwarder(resolver BackendResolver, cfg config.BreakerConfig, opts ...Option) (*Forwarder, error) {
	if resolver == nil {
		return nil, fmt.Errorf("backend resolver is required")
	}
	f := &Forwarder{
		resolver: resolver,
		client:   &http.Client{Timeout: 30 * time.Second},
		cfg:      cfg,
		logger:   slog.Default(),
		breakers: make(map[string]*circuit.Breaker),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.cache = NewFallbackCache(cfg.FallbackCacheTTL, WithCacheClock(f.clock))
	return f, nil
}

// Forward sends the request upstream and writes the backend's response.
// Returns a coded error for the normalizer when the request cannot be
// served at all.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	name, baseURL, err := f.resolveBackend(ctx)
	if err != nil {
		return err
	}

	breaker := f.breaker(name)
	if !breaker.Allow() {
		metrics.ShortCircuits.WithLabelValues(name).Inc()
		if served := f.serveFallback(w, r, name); served {
			return nil
		}
		retryAfter := int(breaker.RetryAfter().Seconds()) + 1
		return dErrors.New(dErrors.CodeBackendUnavailable,
			fmt.Sprintf("backend %q is short-circuited", name)).
			WithRetryAfter(retryAfter)
	}

	resp, err := f.roundTrip(ctx, r, name, baseURL)
	if err != nil {
		f.recordFailure(ctx, breaker, name)
		kind := "network"
		code := dErrors.CodeBackendUnavailable
		if isTimeout(err) {
			kind = "timeout"
			code = dErrors.CodeTimeout
		}
		metrics.ForwardErrors.WithLabelValues(name, kind).Inc()
		if served := f.serveFallback(w, r, name); served {
			return nil
		}
		return dErrors.Wrap(err, code, fmt.Sprintf("backend %q unreachable", name))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		f.recordFailure(ctx, breaker, name)
		metrics.ForwardErrors.WithLabelValues(name, "server_error").Inc()
		if served := f.serveFallback(w, r, name); served {
			return nil
		}
		// Relay the backend's own error: it reached us, we report it.
		return relay(w, resp, f.cache, "")
	}

	if _, change := breaker.RecordSuccess(); change.Closed {
		f.logger.InfoContext(ctx, "circuit breaker closed", "backend", name)
		metrics.BreakerState.WithLabelValues(name).Set(float64(circuit.StateClosed))
	}

	cacheKey := ""
	if isSafeMethod(r.Method) && resp.StatusCode == http.StatusOK {
		cacheKey = fallbackKey(name, r)
	}
	return relay(w, resp, f.cache, cacheKey)
}

// resolveBackend picks the backend for this request: the policy stage's
// sandbox override wins, then the route's own backend, then the default.
func (f *Forwarder) resolveBackend(ctx context.Context) (name, baseURL string, err error) {
	snapshot := f.resolver.Snapshot()
	route := authz.RouteFrom(ctx)

	name = requestcontext.RouteTarget(ctx)
	if name == "" {
		name = route.Backend
	}
	if name == "" {
		name = snapshot.DefaultBackend()
	}
	if name == "" {
		return "", "", dErrors.New(dErrors.CodeInternal, "no backend configured for route")
	}

	baseURL, ok := snapshot.Backend(name)
	if !ok {
		return "", "", dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("backend %q is not configured", name))
	}
	return name, baseURL, nil
}

func (f *Forwarder) breaker(name string) *circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[name]; ok {
		return b
	}
	b := circuit.New(name,
		circuit.WithFailureThreshold(f.cfg.FailureThreshold),
		circuit.WithSuccessThreshold(f.cfg.SuccessThreshold),
		circuit.WithCooldown(f.cfg.Cooldown),
		circuit.WithClock(f.clock),
	)
	f.breakers[name] = b
	return b
}

func (f *Forwarder) recordFailure(ctx context.Context, breaker *circuit.Breaker, name string) {
	if _, change := breaker.RecordFailure(); change.Opened {
		f.logger.WarnContext(ctx, "circuit breaker opened",
			"backend", name,
			"cooldown", f.cfg.Cooldown)
		metrics.BreakerState.WithLabelValues(name).Set(float64(circuit.StateOpen))
	}
}

// roundTrip rebuilds the request for the upstream: rewritten URL, identity
// headers instead of the bearer token, same correlation id, fresh causation
// id naming this hop as the cause.
func (f *Forwarder) roundTrip(ctx context.Context, r *http.Request, name, baseURL string) (*http.Response, error) {
	target := strings.TrimRight(baseURL, "/") + r.URL.RequestURI()
	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	out.Header = r.Header.Clone()
	out.Header.Del("Authorization")
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	identity := requestcontext.Identity(ctx)
	out.Header.Set(HeaderSubject, identity.Subject.String())
	out.Header.Set(HeaderTenant, identity.Tenant.String())
	out.Header.Set(HeaderRoles, strings.Join(identity.Roles, ","))

	out.Header.Set(httputil.HeaderCorrelationID, requestcontext.CorrelationID(ctx))
	out.Header.Set(httputil.HeaderCausationID, uuid.NewString())

	start := f.clock()
	resp, err := f.client.Do(out)
	metrics.ForwardDuration.WithLabelValues(name).Observe(f.clock().Sub(start).Seconds())
	return resp, err
}

// serveFallback replays the last-known-good response for safe methods.
func (f *Forwarder) serveFallback(w http.ResponseWriter, r *http.Request, name string) bool {
	if !isSafeMethod(r.Method) {
		return false
	}
	cached, ok := f.cache.Get(fallbackKey(name, r))
	if !ok {
		return false
	}
	metrics.FallbackServed.WithLabelValues(name).Inc()

	for k, vals := range cached.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderStale, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// relay copies the backend response to the client, optionally capturing it
// for the fallback cache.
func relay(w http.ResponseWriter, resp *http.Response, cache *FallbackCache, cacheKey string) error {
	for _, h := range hopHeaders {
		resp.Header.Del(h)
	}
	for k, vals := range resp.Header {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if cacheKey != "" {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxCachedBody+1))
		if err != nil {
			return nil // response status already committed
		}
		_, _ = w.Write(body)
		if len(body) <= maxCachedBody {
			cache.Put(cacheKey, CachedResponse{
				StatusCode: resp.StatusCode,
				Header:     resp.Header.Clone(),
				Body:       body,
			})
		}
		return nil
	}

	_, _ = io.Copy(w, resp.Body)
	return nil
}

func fallbackKey(backend string, r *http.Request) string {
	return backend + " " + r.Method + " " + r.URL.RequestURI()
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
