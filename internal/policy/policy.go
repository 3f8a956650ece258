// Package policy implements the client side of the policy engine contract.
// The engine is an external collaborator queried over a narrow request and
// response shape; evaluation must be idempotent and side-effect-free on the
// engine's side, so the gateway is free to treat every query as fresh.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"aegis/pkg/domain"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

// Obligation keys the gateway understands. Anything else in the obligations
// map is passed through to the caller untouched.
const (
	// ObligationRouteOverride redirects the request to a different backend
	// (sandbox routing). Routing metadata only; identity is never rewritten.
	ObligationRouteOverride = "route_override"
	// ObligationApprovalRef tells a caller denied on a governor-gated route
	// how to request approval.
	ObligationApprovalRef = "approval_ref"
	// ObligationQuotaExhausted marks a denial as quota-based (trial task
	// limit). The gateway renders these as rate-limited rather than
	// forbidden; the value names the exhausted quota.
	ObligationQuotaExhausted = "quota_exhausted"
)

// Query is the structured decision request sent to the policy engine.
type Query struct {
	Subject          domain.SubjectID `json:"subject"`
	Roles            []string         `json:"roles"`
	Tenant           domain.TenantID  `json:"tenant"`
	Action           string           `json:"action"`
	Resource         string           `json:"resource"`
	TrialMode        bool             `json:"trial_mode"`
	UsageToday       int64            `json:"usage_today"`
	Governor         bool             `json:"governor"`
	RequiresGovernor bool             `json:"requires_governor"`
}

// Decision is the engine's answer for one request. Computed exactly once per
// request and cached for its lifetime, so one audit record can never carry
// two different decisions.
type Decision struct {
	Allowed     bool              `json:"allow"`
	Reason      string            `json:"reason,omitempty"`
	Obligations map[string]string `json:"obligations,omitempty"`
}

// RouteOverride returns the sandbox routing obligation, if any.
func (d *Decision) RouteOverride() string {
	if d == nil {
		return ""
	}
	return d.Obligations[ObligationRouteOverride]
}

// ApprovalRef returns the governor approval reference, if any.
func (d *Decision) ApprovalRef() string {
	if d == nil {
		return ""
	}
	return d.Obligations[ObligationApprovalRef]
}

// QuotaExhausted reports whether the denial is quota-based.
func (d *Decision) QuotaExhausted() bool {
	if d == nil {
		return false
	}
	return d.Obligations[ObligationQuotaExhausted] != ""
}

// Client queries the external policy engine over HTTP with a bounded timeout.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient builds a policy client for the given endpoint. The timeout
// bounds each evaluation round trip, independent of the request deadline.
func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		timeout:  timeout,
		http:     &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate submits one decision query. Unreachable or misbehaving engines
// surface as sentinel.ErrUnavailable so the decision stage can apply the
// configured fail mode; the client itself never decides allow or deny.
func (c *Client) Evaluate(ctx context.Context, query Query) (*Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal policy query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID := requestcontext.CorrelationID(ctx); correlationID != "" {
		req.Header.Set(httputil.HeaderCorrelationID, correlationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: policy engine unreachable: %v", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		if c.logger != nil {
			c.logger.ErrorContext(ctx, "policy engine returned unexpected status",
				"status", resp.StatusCode, "body", string(snippet))
		}
		return nil, fmt.Errorf("%w: policy engine status %d", sentinel.ErrUnavailable, resp.StatusCode)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("%w: decode policy decision: %v", sentinel.ErrUnavailable, err)
	}
	return &decision, nil
}
