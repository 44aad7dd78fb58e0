package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token scopes. A control token may also read.
const (
	ScopeRead    = "read"
	ScopeControl = "control"
)

var (
	// ErrTokenInvalid is returned when a token fails signature, expiry or
	// claim checks.
	ErrTokenInvalid = errors.New("api: invalid token")

	// ErrInvalidScope is returned by IssueToken for an unknown scope.
	ErrInvalidScope = errors.New("api: invalid token scope")
)

const ctxKeyClaims contextKey = "claims"

// TokenClaims are the claims carried by API bearer tokens.
type TokenClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Allows reports whether the token grants scope.
func (c *TokenClaims) Allows(scope string) bool {
	return c.Scope == scope || c.Scope == ScopeControl
}

// IssueToken signs an HS256 token for subject with the given scope.
// A non-positive ttl issues a token without expiry.
func IssueToken(secret, subject, scope string, ttl time.Duration) (string, error) {
	if scope != ScopeRead && scope != ScopeControl {
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	now := time.Now()
	claims := TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		Scope: scope,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token and returns its claims. It checks the
// signature, expiry, subject and scope.
func ParseToken(tokenString, secret string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if claims.Scope != ScopeRead && claims.Scope != ScopeControl {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrTokenInvalid, claims.Scope)
	}
	return claims, nil
}

// authMiddleware requires a bearer token when api.auth.jwt_secret is set.
//
// Safe methods need the read scope, anything else needs control. The token
// may also be passed as ?token= on GET requests, since browsers cannot set
// headers on WebSocket upgrades.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := s.cfg.Auth.JWTSecret
		if secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw := bearerToken(r)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing bearer token")
			return
		}

		claims, err := ParseToken(raw, secret)
		if err != nil {
			s.logger.Debug("rejected API token",
				"error", err,
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
			return
		}

		need := ScopeRead
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			need = ScopeControl
		}
		if !claims.Allows(need) {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, need+" scope required")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("token")
	}
	return ""
}
