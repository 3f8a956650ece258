// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// This package defines context keys and getter/setter functions for values
// that are set by middleware but consumed by services. By keeping this
// package free of net/http dependencies, services can import only what they
// need without pulling in HTTP-related code.
//
// Usage in services (read values):
//
//	correlationID := requestcontext.CorrelationID(ctx)
//	identity := requestcontext.Identity(ctx)
//
// Usage in middleware (set values):
//
//	ctx = requestcontext.WithCorrelation(ctx, correlationID, causationID)
//	ctx = requestcontext.WithIdentity(ctx, identity)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"aegis/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	correlationIDKey struct{}
	causationIDKey   struct{}
	identityKey      struct{}
	routeTargetKey   struct{}
	requestTimeKey   struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyCorrelationID = correlationIDKey{}
	ContextKeyCausationID   = causationIDKey{}
	ContextKeyIdentity      = identityKey{}
	ContextKeyRouteTarget   = routeTargetKey{}
	ContextKeyRequestTime   = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Correlation chain
// -----------------------------------------------------------------------------

// CorrelationID retrieves the correlation id from the context. The id is
// minted at ingress and immutable for the whole causal chain: every log line
// and audit record for one logical request carries the same value.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

// CausationID retrieves the causation id for this hop. Downstream calls mint
// new causation ids referencing this one.
func CausationID(ctx context.Context) string {
	if id, ok := ctx.Value(ContextKeyCausationID).(string); ok {
		return id
	}
	return ""
}

// WithCorrelation injects the correlation/causation id pair into the context.
func WithCorrelation(ctx context.Context, correlationID, causationID string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyCorrelationID, correlationID)
	return context.WithValue(ctx, ContextKeyCausationID, causationID)
}

// -----------------------------------------------------------------------------
// Identity
// -----------------------------------------------------------------------------

// Identity retrieves the authenticated caller from the context.
// Returns the zero value if the authentication stage has not run.
func Identity(ctx context.Context) domain.Identity {
	if identity, ok := ctx.Value(ContextKeyIdentity).(domain.Identity); ok {
		return identity
	}
	return domain.Identity{}
}

// WithIdentity injects the authenticated caller into the context.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}

// -----------------------------------------------------------------------------
// Routing metadata
// -----------------------------------------------------------------------------

// RouteTarget retrieves the backend override set by the policy stage
// (sandbox routing). Empty means the route's configured backend applies.
func RouteTarget(ctx context.Context) string {
	if target, ok := ctx.Value(ContextKeyRouteTarget).(string); ok {
		return target
	}
	return ""
}

// WithRouteTarget injects a backend override into the context. Routing
// metadata only: the identity is never rewritten by sandbox routing.
func WithRouteTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, ContextKeyRouteTarget, target)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for service unit
// tests that don't run the full HTTP middleware chain, and for workers that
// need consistent time within a batch.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
