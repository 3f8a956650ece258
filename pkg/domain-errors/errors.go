// Package domainerrors defines the gateway's error taxonomy. Every stage of
// the middleware chain raises a coded error from this package; the error
// normalization stage is the single place that renders them to callers.
//
// Stores and infrastructure return sentinel errors (pkg/platform/sentinel);
// services wrap those into coded errors here so transport code never needs
// to know about infrastructure detail.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier. Codes are part of the
// public contract: they appear as the `type` field of error response bodies.
type Code string

const (
	// CodeUnauthenticated: credential missing or signature invalid. Terminal
	// per request; a new credential is required.
	CodeUnauthenticated Code = "unauthenticated"
	// CodeTokenExpired: credential was valid but has expired. Distinct from
	// CodeUnauthenticated so callers can auto-refresh.
	CodeTokenExpired Code = "token_expired"
	// CodeForbidden: the caller's roles do not grant the required permission.
	CodeForbidden Code = "forbidden"
	// CodePolicyDenied: the policy engine evaluated the request and denied it.
	CodePolicyDenied Code = "policy_denied"
	// CodePolicyUnavailable: the policy engine could not be reached and the
	// gateway is running fail-closed. Loudly distinct from CodePolicyDenied
	// so operators can tell infrastructure failure from legitimate denial.
	CodePolicyUnavailable Code = "policy_unavailable"
	// CodeBudgetExceeded: the agent's daily spend cap is exhausted.
	CodeBudgetExceeded Code = "budget_exceeded"
	// CodeQuotaExceeded: the policy engine denied on a task quota (trial
	// accounts' per-day limit). Rate-limited, not forbidden: the same
	// request succeeds once the window resets.
	CodeQuotaExceeded Code = "quota_exceeded"
	// CodePlatformBudgetExceeded: the tenant's monthly spend cap is exhausted.
	CodePlatformBudgetExceeded Code = "platform_budget_exceeded"
	// CodeBackendUnavailable: the backend's circuit breaker is open.
	CodeBackendUnavailable Code = "backend_unavailable"
	// CodeTimeout: the request deadline elapsed mid-chain.
	CodeTimeout Code = "timeout"
	// CodeBadRequest / CodeNotFound / CodeInternal: general-purpose codes.
	CodeBadRequest Code = "bad_request"
	CodeNotFound   Code = "not_found"
	CodeInternal   Code = "internal_error"
)

// httpStatus maps each code to its HTTP status.
var httpStatus = map[Code]int{
	CodeUnauthenticated:        http.StatusUnauthorized,
	CodeTokenExpired:           http.StatusUnauthorized,
	CodeForbidden:              http.StatusForbidden,
	CodePolicyDenied:           http.StatusForbidden,
	CodePolicyUnavailable:      http.StatusServiceUnavailable,
	CodeBudgetExceeded:         http.StatusTooManyRequests,
	CodeQuotaExceeded:          http.StatusTooManyRequests,
	CodePlatformBudgetExceeded: http.StatusTooManyRequests,
	CodeBackendUnavailable:     http.StatusServiceUnavailable,
	CodeTimeout:                http.StatusGatewayTimeout,
	CodeBadRequest:             http.StatusBadRequest,
	CodeNotFound:               http.StatusNotFound,
	CodeInternal:               http.StatusInternalServerError,
}

// titles are the short human-readable names rendered in error bodies.
var titles = map[Code]string{
	CodeUnauthenticated:        "Unauthenticated",
	CodeTokenExpired:           "Token Expired",
	CodeForbidden:              "Forbidden",
	CodePolicyDenied:           "Policy Denied",
	CodePolicyUnavailable:      "Policy Engine Unavailable",
	CodeBudgetExceeded:         "Budget Exceeded",
	CodeQuotaExceeded:          "Quota Exceeded",
	CodePlatformBudgetExceeded: "Platform Budget Exceeded",
	CodeBackendUnavailable:     "Backend Unavailable",
	CodeTimeout:                "Request Timeout",
	CodeBadRequest:             "Bad Request",
	CodeNotFound:               "Not Found",
	CodeInternal:               "Internal Error",
}

// Error is a coded domain error. Obligations and RetryAfter ride along so
// the normalization stage can render them without re-deriving context.
type Error struct {
	Code    Code
	Message string
	Err     error

	// Obligations from a policy decision (e.g. approval_ref) that must be
	// surfaced in the response body alongside the denial.
	Obligations map[string]string

	// RetryAfter, in seconds, for recoverable denials (budget windows,
	// open breakers). Zero means no hint.
	RetryAfter int
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error preserving the underlying cause for errors.Is.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithObligations attaches policy obligations to the error.
func (e *Error) WithObligations(obligations map[string]string) *Error {
	e.Obligations = obligations
	return e
}

// WithRetryAfter attaches a retry-after hint in seconds.
func (e *Error) WithRetryAfter(seconds int) *Error {
	if seconds < 0 {
		seconds = 0
	}
	e.RetryAfter = seconds
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the HTTP status for the error's code.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Title returns the human-readable short name for the error's code.
func (e *Error) Title() string {
	if title, ok := titles[e.Code]; ok {
		return title
	}
	return titles[CodeInternal]
}

// CodeOf extracts the code from an error chain. Unknown errors map to
// CodeInternal, honoring the deny-by-default stance: anything unexpected
// is an internal failure, never silently allowed.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// AsError extracts the coded error from a chain, or wraps an unknown error
// as CodeInternal so every exit path has a structured shape.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Wrap(err, CodeInternal, "unexpected error")
}

// Retryable reports whether the caller can meaningfully retry without new
// credentials or roles. Policy, budget, and backend failures are recoverable;
// authentication and authorization failures are not.
func Retryable(code Code) bool {
	switch code {
	case CodePolicyUnavailable, CodeBudgetExceeded, CodePlatformBudgetExceeded,
		CodeQuotaExceeded, CodeBackendUnavailable, CodeTimeout:
		return true
	}
	return false
}
