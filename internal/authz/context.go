package authz

import "context"

type routeKey struct{}

// WithRoute injects the matched route into the context so downstream stages
// (policy query construction, backend resolution) see the same match the
// permission check used.
func WithRoute(ctx context.Context, route Route) context.Context {
	return context.WithValue(ctx, routeKey{}, route)
}

// RouteFrom retrieves the matched route. The zero Route means the check
// stage has not run.
func RouteFrom(ctx context.Context) Route {
	route, _ := ctx.Value(routeKey{}).(Route)
	return route
}
