package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteProblem(t *testing.T) {
	t.Run("writes structured body with status", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteProblem(w, Problem{
			Type:          "budget_exceeded",
			Title:         "Budget Exceeded",
			Status:        http.StatusTooManyRequests,
			Detail:        "daily cap exhausted",
			CorrelationID: "corr-1",
			RetryAfter:    42,
		})

		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, w.Code)
		}
		if got := w.Header().Get("Retry-After"); got != "42" {
			t.Fatalf("expected Retry-After 42, got %q", got)
		}

		var body Problem
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body.Type != "budget_exceeded" {
			t.Fatalf("expected type budget_exceeded, got %q", body.Type)
		}
		if body.CorrelationID != "corr-1" {
			t.Fatalf("expected correlation id corr-1, got %q", body.CorrelationID)
		}
	})

	t.Run("omits retry-after header when zero", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteProblem(w, Problem{
			Type:   "forbidden",
			Title:  "Forbidden",
			Status: http.StatusForbidden,
		})

		if got := w.Header().Get("Retry-After"); got != "" {
			t.Fatalf("expected no Retry-After header, got %q", got)
		}

		var body map[string]any
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if _, ok := body["retry_after"]; ok {
			t.Fatalf("expected retry_after to be omitted when zero")
		}
		if _, ok := body["detail"]; ok {
			t.Fatalf("expected detail to be omitted when empty")
		}
	})
}
