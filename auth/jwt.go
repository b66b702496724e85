// Package auth verifies the bearer tokens of UI callers and carries the
// authenticated actor through request contexts.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/deal-desk/deal"
	"github.com/warp/deal-desk/session"
)

var (
	ErrMissingToken = errors.New("authorization header is required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrRevoked      = errors.New("session ended, please sign in again")
)

// Claims is the token payload.
type Claims struct {
	UserID string    `json:"user_id"`
	Role   deal.Role `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues, validates and revokes HS256 tokens.
type Verifier struct {
	key []byte
	now func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token -> expiry
}

// NewVerifier creates a verifier for secret.
func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{key: []byte(secret), now: time.Now, revoked: map[string]time.Time{}}, nil
}

// Issue creates a signed token for a user.
func (v *Verifier) Issue(userID string, role deal.Role, ttl time.Duration) (string, error) {
	now := v.now()
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
}

// Verify checks the signature, expiry, role and revocation of a token.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if v.isRevoked(tokenString) {
		return nil, ErrRevoked
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	switch claims.Role {
	case deal.RoleSales, deal.RoleFinance, deal.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return claims, nil
}

// Revoke ends a token's session. Used when the calculation service
// rejects the caller's credentials.
func (v *Verifier) Revoke(tokenString string) {
	if tokenString == "" {
		return
	}
	expiry := v.now().Add(24 * time.Hour)
	if tok, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{}); err == nil {
		if exp, err := tok.Claims.GetExpirationTime(); err == nil && exp != nil {
			expiry = exp.Time
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked[tokenString] = expiry
	v.pruneLocked()
}

func (v *Verifier) isRevoked(tokenString string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.revoked[tokenString]
	return ok
}

func (v *Verifier) pruneLocked() {
	now := v.now()
	for tok, exp := range v.revoked {
		if exp.Before(now) {
			delete(v.revoked, tok)
		}
	}
}

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a session.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the authenticated actor of a request context.
func ActorFrom(ctx context.Context) (session.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(session.Actor)
	return a, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// actor in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, ErrMissingToken)
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			unauthorized(w, errors.New("authorization header must start with Bearer"))
			return
		}

		claims, err := v.Verify(tokenString)
		if err != nil {
			if errors.Is(err, ErrRevoked) {
				unauthorized(w, ErrRevoked)
			} else {
				unauthorized(w, ErrInvalidToken)
			}
			return
		}

		actor := session.Actor{ID: claims.UserID, Role: claims.Role, Token: tokenString}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "logout": true})
}
