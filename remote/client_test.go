package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-desk/deal"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api/"})
	require.NoError(t, err)
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestPreview_ForwardsTokenAndDecodesBundle(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"kpis":     map[string]any{"npv": "1520.50", "irr": "0.18"},
				"timeline": []map[string]any{{"period": 1, "net_flow": "-300"}},
			},
		})
	})

	ctx := WithToken(context.Background(), "abc")
	payload := deal.Detail{Transaction: deal.Transaction{TermMonths: 24}}
	bundle, err := c.Preview(ctx, payload)

	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "/api/transactions/preview", gotPath)
	assert.NotContains(t, gotBody, "timeline")
	assert.True(t, bundle.KPIs.NPV.Equal(decimal.RequireFromString("1520.50")))
	require.Len(t, bundle.Timeline, 1)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantIs  error
		wantMsg string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"success":false,"message":"expired"}`, deal.ErrUnauthorized, ""},
		{"business error on 400", http.StatusBadRequest, `{"success":false,"message":"Plazo inválido"}`, deal.ErrRemote, "Plazo inválido"},
		{"business error on 200", http.StatusOK, `{"success":false,"message":"Código inactivo"}`, deal.ErrRemote, "Código inactivo"},
		{"html error page", http.StatusBadGateway, `<html>bad gateway</html>`, deal.ErrTransport, deal.ConnectivityMessage},
		{"non-2xx without envelope", http.StatusInternalServerError, `{"detail":"boom"}`, deal.ErrTransport, deal.ConnectivityMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.LookupFixedCosts(context.Background(), []string{"WIN-1"})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, deal.UserMessage(err))
			}
		})
	}
}

func TestNetworkFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.GetDetail(context.Background(), "tx-1")

	assert.True(t, deal.IsTransport(err))
	var terr *deal.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "load transaction", terr.Operation)
}

func TestList_SendsPagingQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "finance", r.URL.Query().Get("view"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "25", r.URL.Query().Get("per_page"))
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"items": []map[string]any{{"id": "tx-1", "client_name": "Acme"}}, "total_pages": 4},
		})
	})

	page, err := c.List(context.Background(), deal.ViewFinance, 3, 25)

	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
	assert.Equal(t, 4, page.TotalPages)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Acme", page.Items[0].ClientName)
}

func TestApprove_SendsOnlyChangedCollections(t *testing.T) {
	var body map[string]json.RawMessage
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transactions/tx-1/approve", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true})
	})

	review := deal.Review{
		Fields:     map[deal.Field]deal.Value{deal.FieldRegion: deal.Text("NORTE")},
		FixedCosts: []deal.FixedCost{},
	}
	require.NoError(t, c.Approve(context.Background(), "tx-1", review))

	assert.JSONEq(t, `{"region":"NORTE"}`, string(body["fields"]))
	assert.JSONEq(t, `[]`, string(body["fixed_costs"]))
	assert.JSONEq(t, `null`, string(body["recurring_services"]))
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
}
