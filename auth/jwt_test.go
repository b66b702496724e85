package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/deal-desk/deal"
)

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier("test-secret")
	require.NoError(t, err)
	return v
}

func TestIssueAndVerify(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Issue("ana", deal.RoleSales, time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.UserID)
	assert.Equal(t, deal.RoleSales, claims.Role)
}

func TestVerify_RejectsExpiredForeignAndUnknownRole(t *testing.T) {
	v := newVerifier(t)

	expired, err := v.Issue("ana", deal.RoleSales, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewVerifier("other-secret")
	require.NoError(t, err)
	foreign, err := other.Issue("ana", deal.RoleSales, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	guest, err := v.Issue("ana", deal.Role("GUEST"), time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(guest)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Issue("fin", deal.RoleFinance, time.Hour)
	require.NoError(t, err)

	v.Revoke(token)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestMiddleware(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Issue("fin", deal.RoleFinance, time.Hour)
	require.NoError(t, err)

	var seen bool
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		seen = ok && actor.ID == "fin" && actor.Role == deal.RoleFinance && actor.Token == token
		w.WriteHeader(http.StatusNoContent)
	}))

	// GIVEN: No header
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/drafts", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), `"logout":true`)

	// GIVEN: A valid bearer token
	req := httptest.NewRequest(http.MethodGet, "/api/drafts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, seen)
}
