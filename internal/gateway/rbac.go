package gateway

import (
	"net/http"

	"aegis/internal/authz"
	"aegis/pkg/requestcontext"
)

// authorize is the coarse role gate: it resolves the route and verifies the
// caller's roles grant its permission. Fine-grained, context-dependent rules
// belong to the policy stage; this one is static table lookup only.
func (g *Gateway) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity := requestcontext.Identity(ctx)

		route, err := g.checker.Check(identity, r.Method, r.URL.Path)
		if err != nil {
			g.normalizer.Respond(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(authz.WithRoute(ctx, route)))
	})
}
