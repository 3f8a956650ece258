package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// correlate is the first stage: it establishes the causal chain for the
// request. An inbound correlation id is honored (the caller is part of a
// larger chain); otherwise a fresh one is minted. The causation id is always
// fresh per hop. The response header is set immediately so even requests
// that die mid-chain return their correlation id.
func (g *Gateway) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(httputil.HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		causationID := uuid.NewString()

		ctx := requestcontext.WithCorrelation(r.Context(), correlationID, causationID)
		ctx = requestcontext.WithTime(ctx, time.Now().UTC())

		if g.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.cfg.RequestTimeout)
			defer cancel()
		}

		w.Header().Set(httputil.HeaderCorrelationID, correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
