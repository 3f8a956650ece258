package gateway

import (
	"net/http"
	"strings"

	"aegis/internal/audit"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/requestcontext"
)

// authenticate validates the bearer token and places the caller identity in
// the context. Nothing downstream runs for an unauthenticated request, so
// failed authentication can never consume budget.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			g.normalizer.Respond(w, r, dErrors.New(dErrors.CodeUnauthenticated, "missing bearer token"))
			return
		}

		identity, err := g.jwt.ValidateToken(token)
		if err != nil {
			g.normalizer.Respond(w, r, err)
			return
		}

		ctx := r.Context()
		if identity.TrialMode && !identity.TrialActive(requestcontext.Now(ctx)) {
			g.normalizer.Respond(w, r, dErrors.New(dErrors.CodeForbidden, "trial period has ended"))
			return
		}

		if draft := audit.DraftFrom(ctx); draft != nil {
			draft.SetIdentity(identity)
		}
		next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(ctx, identity)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}
