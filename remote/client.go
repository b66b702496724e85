/*
Package remote is the HTTP client for the calculation service.

PURPOSE:
  Every KPI, lookup, persistence and approval operation is delegated to a
  remote service. This client speaks its JSON envelope and converts every
  failure into the deal error taxonomy, so no caller ever sees a raw
  transport error.

ENVELOPE:
  {"success": true,  "data": {...}}
  {"success": false, "message": "human readable business error"}

ERROR MAPPING:
  HTTP 401                      -> deal.ErrUnauthorized (caller logs out)
  success:false (any status)    -> *deal.RemoteError, message verbatim
  network failure, bad JSON,
  non-2xx without an envelope   -> *deal.TransportError

CREDENTIALS:
  The UI caller's bearer token travels on the context (WithToken) and is
  forwarded unchanged. The client holds no session of its own.

THROTTLING:
  Outbound calls pass through a token-bucket limiter (rate.Inf unless
  configured). There is no retry policy: each failure surfaces once.

SEE ALSO:
  - session/calculator.go: the interface this client implements
  - dashboard/board.go: uses List()
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/warp/deal-desk/deal"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout of 0 leaves requests bounded only by their context.
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client talks to the calculation service.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a client for cfg.BaseURL.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid calculation service URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{baseURL: u, http: httpClient, limiter: rate.NewLimiter(limit, burst)}, nil
}

// =============================================================================
// CREDENTIALS
// =============================================================================

type tokenKey struct{}

// WithToken attaches the caller's bearer token to ctx.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func tokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// =============================================================================
// OPERATIONS
// =============================================================================

type codesRequest struct {
	Codes []string `json:"codes"`
}

// Preview recomputes KPIs and timeline for a full draft payload.
func (c *Client) Preview(ctx context.Context, payload deal.Detail) (deal.Bundle, error) {
	var out deal.Bundle
	err := c.do(ctx, "preview", http.MethodPost, "/transactions/preview", nil, payload, &out)
	return out, err
}

// LookupFixedCosts returns canonical fixed-cost rows for codes.
func (c *Client) LookupFixedCosts(ctx context.Context, codes []string) ([]deal.FixedCost, error) {
	var out []deal.FixedCost
	err := c.do(ctx, "fixed-cost lookup", http.MethodPost, "/fixed-costs/lookup", nil, codesRequest{Codes: codes}, &out)
	return out, err
}

// LookupRecurringServices returns canonical recurring rows for codes, each
// with the client identity it belongs to.
func (c *Client) LookupRecurringServices(ctx context.Context, codes []string) ([]deal.RecurringLookup, error) {
	var out []deal.RecurringLookup
	err := c.do(ctx, "recurring-service lookup", http.MethodPost, "/recurring-services/lookup", nil, codesRequest{Codes: codes}, &out)
	return out, err
}

// Submit persists a finalized draft and returns the stored transaction.
func (c *Client) Submit(ctx context.Context, payload deal.Detail) (deal.Transaction, error) {
	var out deal.Transaction
	err := c.do(ctx, "submit", http.MethodPost, "/transactions/submit", nil, payload, &out)
	return out, err
}

// Approve records finance approval with the reviewer's modifications.
func (c *Client) Approve(ctx context.Context, id string, review deal.Review) error {
	return c.do(ctx, "approve", http.MethodPost, "/transactions/"+url.PathEscape(id)+"/approve", nil, review, nil)
}

// Reject records finance rejection with the reviewer's modifications.
func (c *Client) Reject(ctx context.Context, id string, review deal.Review) error {
	return c.do(ctx, "reject", http.MethodPost, "/transactions/"+url.PathEscape(id)+"/reject", nil, review, nil)
}

// CalculateCommission asks the service to compute commission and returns
// the refreshed detail.
func (c *Client) CalculateCommission(ctx context.Context, id string) (deal.Detail, error) {
	var out deal.Detail
	err := c.do(ctx, "calculate commission", http.MethodPost, "/transactions/"+url.PathEscape(id)+"/commission", nil, struct{}{}, &out)
	return out, err
}

// GetDetail loads a stored transaction with both collections.
func (c *Client) GetDetail(ctx context.Context, id string) (deal.Detail, error) {
	var out deal.Detail
	err := c.do(ctx, "load transaction", http.MethodGet, "/transactions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// List returns one page of transaction summaries for a view.
func (c *Client) List(ctx context.Context, view deal.View, page, pageSize int) (deal.SummaryPage, error) {
	q := url.Values{}
	q.Set("view", string(view))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))

	var out deal.SummaryPage
	err := c.do(ctx, "list transactions", http.MethodGet, "/transactions", q, nil, &out)
	if out.Page == 0 {
		out.Page = page
	}
	return out, err
}

// =============================================================================
// TRANSPORT
// =============================================================================

type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &deal.TransportError{Operation: op, Err: err}
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &deal.TransportError{Operation: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return &deal.TransportError{Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := tokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &deal.TransportError{Operation: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, deal.ErrUnauthorized)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &deal.TransportError{Operation: op, Err: fmt.Errorf("read response: %w", err)}
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || (env.Success == nil && !ok) {
		return &deal.TransportError{Operation: op, Err: fmt.Errorf("unexpected response: HTTP %d", resp.StatusCode)}
	}

	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("%s failed", op)
		}
		return &deal.RemoteError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &deal.TransportError{Operation: op, Err: fmt.Errorf("decode %s response: %w", op, err)}
	}
	return nil
}
