/*
handlers_test.go - End-to-end tests for the HTTP API

Each test runs the real router, session manager, dashboard registry and
remote client against a fake calculation service (httptest).

Tests for:
- Authentication and logout on remote 401
- Draft editing, code lookup and approval
- Permission gate and error status mapping
- Dashboard filters and the audit log
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-desk/auth"
	"github.com/warp/deal-desk/dashboard"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/remote"
	"github.com/warp/deal-desk/session"
	"github.com/warp/deal-desk/store/memory"
)

// =============================================================================
// FAKE CALCULATION SERVICE
// =============================================================================

type reviewBody struct {
	Fields     map[string]json.RawMessage `json:"fields"`
	FixedCosts []deal.FixedCost           `json:"fixed_costs"`
	Comment    string                     `json:"comment"`
}

type fakeService struct {
	mu           sync.Mutex
	unauthorized bool
	details      map[string]deal.Detail
	reviews      map[string]reviewBody
}

func newFakeService() *fakeService {
	return &fakeService{
		details: map[string]deal.Detail{
			"tx-1": {
				Transaction: deal.Transaction{
					ID:           "tx-1",
					ClientName:   "Acme",
					CompanyID:    "20123",
					BusinessUnit: "ENTERPRISE",
					TermMonths:   24,
					MRC:          deal.NewMoney(1000, deal.CurrencyPEN),
					Status:       deal.StatusPending,
				},
				FixedCosts: []deal.FixedCost{{
					Ticket:   "WIN-0",
					Quantity: decimal.NewFromInt(1),
					UnitCost: deal.NewMoney(10, deal.CurrencyPEN),
					Total:    deal.NewMoney(10, deal.CurrencyPEN),
				}},
			},
		},
		reviews: map[string]reviewBody{},
	}
}

func (f *fakeService) setUnauthorized(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unauthorized = v
}

func (f *fakeService) review(id string) (reviewBody, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	return r, ok
}

func envelopeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

func (f *fakeService) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			deny := f.unauthorized
			f.mu.Unlock()
			if deny {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/api/transactions/preview", func(w http.ResponseWriter, req *http.Request) {
		var p deal.Detail
		_ = json.NewDecoder(req.Body).Decode(&p)
		total := decimal.Zero
		for _, fc := range p.FixedCosts {
			total = total.Add(fc.Total.Amount)
		}
		envelopeOK(w, deal.Bundle{KPIs: deal.KPIs{TotalInvestment: total}})
	})

	r.Post("/api/fixed-costs/lookup", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Codes []string `json:"codes"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		if len(body.Codes) == 1 && body.Codes[0] == "WIN-1" {
			envelopeOK(w, []deal.FixedCost{{
				Quantity: decimal.NewFromInt(1),
				UnitCost: deal.NewMoney(150, deal.CurrencyPEN),
				Total:    deal.NewMoney(150, deal.CurrencyPEN),
			}})
			return
		}
		envelopeOK(w, []deal.FixedCost{})
	})

	r.Get("/api/transactions/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		d, ok := f.details[chi.URLParam(req, "id")]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "transaction not found"})
			return
		}
		envelopeOK(w, d)
	})

	r.Post("/api/transactions/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
		var body reviewBody
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		f.reviews[chi.URLParam(req, "id")] = body
		f.mu.Unlock()
		envelopeOK(w, nil)
	})

	r.Get("/api/transactions", func(w http.ResponseWriter, req *http.Request) {
		envelopeOK(w, deal.SummaryPage{Page: 1, TotalPages: 1, Items: []deal.Summary{
			{ID: "tx-1", ClientName: "Acme", Status: deal.StatusPending},
			{ID: "tx-3", ClientName: "Beta", Status: deal.StatusPending},
		}})
	})

	return r
}

// =============================================================================
// TEST SETUP
// =============================================================================

type testEnv struct {
	api      *httptest.Server
	svc      *fakeService
	verifier *auth.Verifier
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	svc := newFakeService()
	calc := httptest.NewServer(svc.router())
	t.Cleanup(calc.Close)

	client, err := remote.New(remote.Config{BaseURL: calc.URL + "/api", Timeout: 5 * time.Second})
	require.NoError(t, err)

	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)

	creds := func(ctx context.Context, a session.Actor) context.Context { return remote.WithToken(ctx, a.Token) }
	logout := func(a session.Actor) { verifier.Revoke(a.Token) }

	audit := memory.New()
	var boards *dashboard.Registry
	drafts := session.NewManager(client, audit, session.Options{
		Credentials: creds,
		OnLogout:    logout,
		OnSettled:   func(string, deal.Status) { boards.InvalidateAll() },
	})
	boards = dashboard.NewRegistry(client, dashboard.Config{Credentials: creds, OnLogout: logout})

	h := NewHandler(drafts, boards, audit)
	apiSrv := httptest.NewServer(NewRouter(h, verifier, []string{"http://localhost:5173"}))
	t.Cleanup(apiSrv.Close)

	return &testEnv{api: apiSrv, svc: svc, verifier: verifier}
}

func (e *testEnv) token(t *testing.T, user string, role deal.Role) string {
	t.Helper()
	tok, err := e.verifier.Issue(user, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, token, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.api.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

// stateView is the part of a draft state the tests read.
type stateView struct {
	ID         string           `json:"id"`
	Status     deal.Status      `json:"status"`
	CanEdit    bool             `json:"can_edit"`
	Effective  deal.Transaction `json:"effective"`
	FixedCosts []deal.FixedCost `json:"fixed_costs"`
	Computed   *deal.Bundle     `json:"computed"`
	LastError  *string          `json:"last_error"`
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (e *testEnv) open(t *testing.T, token string, view deal.View, txID string) stateView {
	t.Helper()
	code, raw := e.do(t, token, http.MethodPost, "/api/drafts", OpenDraftRequest{View: view, TransactionID: txID})
	require.Equal(t, http.StatusCreated, code, string(raw))
	return decode[stateView](t, raw)
}

// =============================================================================
// TESTS
// =============================================================================

func TestHealth(t *testing.T) {
	e := newEnv(t)

	code, raw := e.do(t, "", http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, code)
	health := decode[HealthResponse](t, raw)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Drafts)
}

func TestAPI_RequiresToken(t *testing.T) {
	e := newEnv(t)

	code, raw := e.do(t, "", http.MethodGet, "/api/dashboard", nil)

	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, string(raw), `"logout":true`)
}

func TestDraftFlow_EditLookupApprove(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)

	// GIVEN: Finance opens a pending transaction
	st := e.open(t, fin, deal.ViewFinance, "tx-1")
	assert.Equal(t, deal.StatusPending, st.Status)
	assert.True(t, st.CanEdit)
	base := "/api/drafts/" + st.ID

	// WHEN: A field is edited and a ticket is added
	code, raw := e.do(t, fin, http.MethodPost, base+"/fields", map[string]any{"field": "region", "value": "NORTE"})
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Equal(t, "NORTE", decode[stateView](t, raw).Effective.Region)

	code, raw = e.do(t, fin, http.MethodPost, base+"/fixed-costs", CodeRequest{Code: " win-1 "})
	require.Equal(t, http.StatusOK, code, string(raw))
	st = decode[stateView](t, raw)
	require.Len(t, st.FixedCosts, 2)
	assert.Equal(t, "WIN-1", st.FixedCosts[1].Ticket)

	// THEN: The same ticket again is a conflict
	code, raw = e.do(t, fin, http.MethodPost, base+"/fixed-costs", CodeRequest{Code: "WIN-1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "duplicate_code", decode[ErrorResponse](t, raw).Code)

	// THEN: The latest recalculation reflects both rows
	code, raw = e.do(t, fin, http.MethodGet, base+"?wait=true", nil)
	require.Equal(t, http.StatusOK, code)
	st = decode[stateView](t, raw)
	require.NotNil(t, st.Computed)
	assert.True(t, st.Computed.KPIs.TotalInvestment.Equal(decimal.NewFromInt(160)), st.Computed.KPIs.TotalInvestment.String())

	// WHEN: Finance approves
	code, raw = e.do(t, fin, http.MethodPost, base+"/approve", ReviewRequest{Comment: "ok"})
	require.Equal(t, http.StatusOK, code, string(raw))
	settled := decode[SettledResponse](t, raw)
	assert.Equal(t, "tx-1", settled.TransactionID)
	assert.Equal(t, deal.StatusApproved, settled.Status)

	// THEN: The service received only what changed, and the draft is gone
	review, ok := e.svc.review("tx-1")
	require.True(t, ok)
	assert.JSONEq(t, `"NORTE"`, string(review.Fields["region"]))
	assert.Len(t, review.FixedCosts, 2)
	assert.Equal(t, "ok", review.Comment)

	code, _ = e.do(t, fin, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)

	// THEN: The audit log holds the draft's lifecycle
	code, raw = e.do(t, fin, http.MethodGet, "/api/audit?transaction_id=tx-1", nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	entries := decode[[]session.AuditEntry](t, raw)
	require.Len(t, entries, 2)
	assert.Equal(t, session.AuditOpened, entries[0].Action)
	assert.Equal(t, session.AuditApproved, entries[1].Action)
	assert.Equal(t, "APPROVED", entries[1].Detail["status"])
	assert.Equal(t, "ok", entries[1].Detail["comment"])
}

func TestDraft_BadInputs(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)
	st := e.open(t, fin, deal.ViewFinance, "tx-1")
	base := "/api/drafts/" + st.ID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"wrong value kind", http.MethodPost, base + "/fields", map[string]any{"field": "term_months", "value": "soon"}, http.StatusBadRequest, "validation"},
		{"unknown field", http.MethodPost, base + "/fields", map[string]any{"field": "color", "value": "red"}, http.StatusBadRequest, "validation"},
		{"negative term", http.MethodPost, base + "/fields", map[string]any{"field": "term_months", "value": -5}, http.StatusBadRequest, "validation"},
		{"unsupported currency", http.MethodPost, base + "/fields", map[string]any{"field": "mrc", "value": map[string]any{"amount": "10", "currency": "EUR"}}, http.StatusBadRequest, "validation"},
		{"unknown ticket", http.MethodPost, base + "/fixed-costs", CodeRequest{Code: "WIN-404"}, http.StatusNotFound, "code_not_found"},
		{"remove unloaded ticket", http.MethodDelete, base + "/fixed-costs/WIN-9", nil, http.StatusNotFound, "row_not_found"},
		{"cell out of range", http.MethodPatch, base + "/fixed-costs/7", CellRequest{Column: "quantity", Value: json.RawMessage(`2`)}, http.StatusNotFound, "row_not_found"},
		{"unknown draft", http.MethodGet, "/api/drafts/nope", nil, http.StatusNotFound, "draft_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, raw := e.do(t, fin, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, code, string(raw))
			assert.Equal(t, tt.code, decode[ErrorResponse](t, raw).Code)
		})
	}
}

func TestDraft_CellEditEstimatesRow(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)
	st := e.open(t, fin, deal.ViewFinance, "tx-1")

	code, raw := e.do(t, fin, http.MethodPatch, "/api/drafts/"+st.ID+"/fixed-costs/0",
		CellRequest{Column: "quantity", Value: json.RawMessage(`3`)})

	require.Equal(t, http.StatusOK, code, string(raw))
	st = decode[stateView](t, raw)
	require.Len(t, st.FixedCosts, 1)
	assert.True(t, st.FixedCosts[0].Total.Amount.Equal(decimal.NewFromInt(30)))
}

func TestDraft_GateRefusesSalesInFinanceView(t *testing.T) {
	e := newEnv(t)
	sales := e.token(t, "ana", deal.RoleSales)

	// GIVEN: Sales opens a pending deal from the finance view
	st := e.open(t, sales, deal.ViewFinance, "tx-1")
	assert.False(t, st.CanEdit)

	// WHEN: Sales tries to edit
	code, raw := e.do(t, sales, http.MethodPost, "/api/drafts/"+st.ID+"/fields", map[string]any{"field": "region", "value": "SUR"})

	// THEN: The gate refuses
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "edit_not_allowed", decode[ErrorResponse](t, raw).Code)
}

func TestDraft_BelongsToItsActor(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)
	other := e.token(t, "fin-2", deal.RoleFinance)
	st := e.open(t, fin, deal.ViewFinance, "tx-1")

	code, _ := e.do(t, other, http.MethodGet, "/api/drafts/"+st.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, fin, http.MethodDelete, "/api/drafts/"+st.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = e.do(t, fin, http.MethodGet, "/api/drafts/"+st.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRemoteUnauthorized_LogsOut(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)
	st := e.open(t, fin, deal.ViewFinance, "tx-1")

	// GIVEN: The calculation service stops accepting the caller
	e.svc.setUnauthorized(true)

	// WHEN: A lookup is attempted
	code, raw := e.do(t, fin, http.MethodPost, "/api/drafts/"+st.ID+"/fixed-costs", CodeRequest{Code: "WIN-1"})

	// THEN: 401 with logout, and the token no longer works here
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.True(t, decode[ErrorResponse](t, raw).Logout)

	code, raw = e.do(t, fin, http.MethodGet, "/api/drafts/"+st.ID, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, string(raw), auth.ErrRevoked.Error())
}

func TestOpen_UnknownTransactionIsRemoteError(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)

	code, raw := e.do(t, fin, http.MethodPost, "/api/drafts", OpenDraftRequest{View: deal.ViewFinance, TransactionID: "tx-404"})

	assert.Equal(t, http.StatusBadGateway, code)
	resp := decode[ErrorResponse](t, raw)
	assert.Equal(t, "remote", resp.Code)
	assert.Equal(t, "transaction not found", resp.Error)
}

func TestDashboard_FiltersWithoutRefetch(t *testing.T) {
	e := newEnv(t)
	fin := e.token(t, "fin", deal.RoleFinance)

	// GIVEN: The finance board is loaded
	code, raw := e.do(t, fin, http.MethodGet, "/api/dashboard?view=finance", nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.Len(t, decode[dashboard.Snapshot](t, raw).Items, 2)

	// WHEN: A text filter is set
	text := "acme"
	code, raw = e.do(t, fin, http.MethodPut, "/api/dashboard/filters", FilterRequest{View: deal.ViewFinance, Text: &text})

	// THEN: Only matching rows are visible
	require.Equal(t, http.StatusOK, code, string(raw))
	snap := decode[dashboard.Snapshot](t, raw)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "tx-1", snap.Items[0].ID)

	bad := "2025-13-01"
	code, _ = e.do(t, fin, http.MethodPut, "/api/dashboard/filters", FilterRequest{Date: &bad})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, fin, http.MethodGet, "/api/dashboard?view=board", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAudit_RequiresFinanceOrAdmin(t *testing.T) {
	e := newEnv(t)
	sales := e.token(t, "ana", deal.RoleSales)

	code, _ := e.do(t, sales, http.MethodGet, "/api/audit", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, sales, http.MethodGet, "/api/admin/reaper-runs", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&deal.ValidationError{Message: "x"}, http.StatusBadRequest},
		{&deal.PermissionError{}, http.StatusForbidden},
		{&deal.ClientMismatchError{}, http.StatusConflict},
		{&deal.ConflictingIdentityError{}, http.StatusConflict},
		{deal.ErrDraftClosed, http.StatusConflict},
		{&deal.RemoteError{Message: "no"}, http.StatusBadGateway},
		{&deal.TransportError{Operation: "preview", Err: io.ErrUnexpectedEOF}, http.StatusBadGateway},
		{io.ErrClosedPipe, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, "%v", tt.err)
	}
}
