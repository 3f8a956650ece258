package gateway

import (
	"net/http"
	"strconv"
	"time"

	"aegis/internal/audit"
	"aegis/internal/gateway/metrics"
	"aegis/pkg/requestcontext"
)

// statusRecorder captures the terminal status code for the audit record.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// record wraps everything downstream with the audit draft and enqueues
// exactly one record when the request finishes, whichever stage terminated
// it. Sits outside normalization so panics and rejections are recorded too.
func (g *Gateway) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		draft := audit.NewDraft(
			requestcontext.CorrelationID(ctx),
			requestcontext.CausationID(ctx),
			r.Method, r.URL.Path,
		)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(recorder, r.WithContext(audit.WithDraft(ctx, draft)))
		elapsed := time.Since(start)

		status := recorder.status
		if status == 0 {
			// Handler wrote nothing at all; net/http will send 200.
			status = http.StatusOK
		}

		g.sink.Enqueue(draft.Finalize(time.Now().UTC(), status, elapsed))
		metrics.Requests.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		metrics.Duration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
	})
}
