package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

func TestClient_Evaluate(t *testing.T) {
	var gotQuery Query
	var gotCorrelation string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get(httputil.HeaderCorrelationID)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotQuery))
		json.NewEncoder(w).Encode(Decision{
			Allowed: false,
			Reason:  "governor approval required",
			Obligations: map[string]string{
				ObligationApprovalRef: "APR-123",
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second)
	ctx := requestcontext.WithCorrelation(context.Background(), "corr-1", "cause-1")

	decision, err := client.Evaluate(ctx, Query{
		Subject:          "agent-1",
		Tenant:           "tenant-1",
		Roles:            []string{"operator"},
		Action:           "POST",
		Resource:         "/api/tasks",
		RequiresGovernor: true,
	})
	require.NoError(t, err)

	assert.False(t, decision.Allowed)
	assert.Equal(t, "governor approval required", decision.Reason)
	assert.Equal(t, "APR-123", decision.ApprovalRef())
	assert.Empty(t, decision.RouteOverride())

	assert.Equal(t, "corr-1", gotCorrelation, "correlation id must propagate to the engine")
	assert.Equal(t, "/api/tasks", gotQuery.Resource)
	assert.True(t, gotQuery.RequiresGovernor)
}

func TestClient_Evaluate_RouteOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Decision{
			Allowed:     true,
			Obligations: map[string]string{ObligationRouteOverride: "sandbox"},
		})
	}))
	defer srv.Close()

	decision, err := NewClient(srv.URL, time.Second).Evaluate(context.Background(), Query{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "sandbox", decision.RouteOverride())
}

func TestClient_Evaluate_Unreachable(t *testing.T) {
	// A server that is already closed.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := NewClient(srv.URL, time.Second).Evaluate(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestClient_Evaluate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond).Evaluate(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}

func TestClient_Evaluate_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Evaluate(context.Background(), Query{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}
