// Package httputil provides shared helpers for writing JSON responses and
// the gateway's structured error bodies.
package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// HeaderCorrelationID carries the correlation id on every response, success
// or error, so clients can trace their requests.
const HeaderCorrelationID = "X-Correlation-ID"

// HeaderCausationID carries the causation id for this hop on downstream calls.
const HeaderCausationID = "X-Causation-ID"

// Problem is the structured error body every failing response carries.
// No stage may leak an unstructured failure to the caller.
type Problem struct {
	Type          string            `json:"type"`
	Title         string            `json:"title"`
	Status        int               `json:"status"`
	Detail        string            `json:"detail,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Obligations   map[string]string `json:"obligations,omitempty"`
	RetryAfter    int               `json:"retry_after,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status code.
// Encoding failures are silently dropped: the status line has already been
// committed, so there is nothing useful left to tell the caller.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes a structured error body. A Retry-After header is set
// for recoverable denials so well-behaved clients can back off.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(p.RetryAfter))
	}
	WriteJSON(w, p.Status, p)
}
