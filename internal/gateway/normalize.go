package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"aegis/internal/audit"
	"aegis/internal/gateway/metrics"
	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

// Normalizer is the single exit point for failures: every stage that
// terminates a request hands its error here, and nothing else writes error
// bodies. One render path means one shape, one log line, one place where
// production stripping happens.
type Normalizer struct {
	logger     *slog.Logger
	production bool
}

// NewNormalizer builds the error renderer.
func NewNormalizer(logger *slog.Logger, production bool) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger, production: production}
}

// Middleware recovers panics from anywhere downstream and renders them as
// internal errors. Keeps the one-record-per-request audit invariant intact:
// a panicking handler still produces a terminal status for the recorder.
func (n *Normalizer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				metrics.Panics.Inc()
				n.logger.ErrorContext(r.Context(), "handler panic recovered",
					"panic", rec,
					"stack", string(debug.Stack()))
				n.Respond(w, r, dErrors.New(dErrors.CodeInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Respond renders a failure to the caller. Unknown errors become
// internal_error; a mid-chain deadline becomes timeout. The audit draft is
// stamped with the terminal error before rendering.
func (n *Normalizer) Respond(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	de := dErrors.AsError(err)
	if de.Code == dErrors.CodeInternal && errors.Is(err, context.DeadlineExceeded) {
		de = dErrors.Wrap(err, dErrors.CodeTimeout, "request deadline exceeded")
	}

	if draft := audit.DraftFrom(ctx); draft != nil {
		draft.SetError(string(de.Code), de.Message)
	}
	metrics.Rejections.WithLabelValues(string(de.Code)).Inc()

	status := de.HTTPStatus()
	logAttrs := []any{
		"code", string(de.Code),
		"status", status,
		"method", r.Method,
		"path", r.URL.Path,
	}
	if status >= http.StatusInternalServerError {
		n.logger.ErrorContext(ctx, "request failed", append(logAttrs, "error", de.Error())...)
	} else {
		n.logger.InfoContext(ctx, "request rejected", append(logAttrs, "detail", de.Message)...)
	}

	httputil.WriteProblem(w, httputil.Problem{
		Type:          string(de.Code),
		Title:         de.Title(),
		Status:        status,
		Detail:        n.detail(ctx, de),
		CorrelationID: requestcontext.CorrelationID(ctx),
		Obligations:   de.Obligations,
		RetryAfter:    de.RetryAfter,
	})
}

// detail decides how much of the internal message reaches the caller.
// Production strips server-side failure detail entirely and reduces
// forbidden responses to their title unless the caller is a platform admin;
// the full detail always lands in the log and the audit record.
func (n *Normalizer) detail(ctx context.Context, de *dErrors.Error) string {
	if !n.production {
		return de.Message
	}
	if de.HTTPStatus() >= http.StatusInternalServerError {
		return ""
	}
	if de.Code == dErrors.CodeForbidden &&
		!requestcontext.Identity(ctx).HasRole(domain.RolePlatformAdmin) {
		return ""
	}
	return de.Message
}
