package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-that-is-at-least-32-chars"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "dashboard", ScopeControl, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	claims, err := ParseToken(token, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "dashboard" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "dashboard")
	}
	if claims.Scope != ScopeControl {
		t.Errorf("Scope = %q, want %q", claims.Scope, ScopeControl)
	}
	if claims.ExpiresAt == nil {
		t.Error("ExpiresAt = nil, want set for positive ttl")
	}
	if claims.ID == "" {
		t.Error("ID is empty")
	}
}

func TestIssueToken_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		scope   string
		want    error
	}{
		{"unknown scope", "x", "admin", ErrInvalidScope},
		{"empty subject", "", ScopeRead, ErrTokenInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := IssueToken(testSecret, tt.subject, tt.scope, time.Hour); !errors.Is(err, tt.want) {
				t.Errorf("IssueToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseToken_Rejects(t *testing.T) {
	valid, err := IssueToken(testSecret, "x", ScopeRead, 0)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	past := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Scope: ScopeRead,
	})
	pastToken, _ := past.SignedString([]byte(testSecret)) //nolint:errcheck // static inputs

	noScope := jwt.NewWithClaims(jwt.SigningMethodHS256, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
	})
	noScopeToken, _ := noScope.SignedString([]byte(testSecret)) //nolint:errcheck // static inputs

	none := jwt.NewWithClaims(jwt.SigningMethodNone, TokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "x"},
		Scope:            ScopeControl,
	})
	noneToken, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType) //nolint:errcheck // static inputs

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "another-secret-that-is-long-enough!!"},
		{"expired", pastToken, testSecret},
		{"missing scope", noScopeToken, testSecret},
		{"alg none", noneToken, testSecret},
		{"garbage", "not.a.token", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseToken(tt.token, tt.secret); !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("ParseToken() error = %v, want %v", err, ErrTokenInvalid)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.Auth.JWTSecret = testSecret
	})

	read, err := IssueToken(testSecret, "viewer", ScopeRead, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	control, err := IssueToken(testSecret, "operator", ScopeControl, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		header     string
		wantStatus int
	}{
		{"health is public", http.MethodGet, "/api/v1/health", "", http.StatusOK},
		{"missing token", http.MethodGet, "/api/v1/devices", "", http.StatusUnauthorized},
		{"malformed header", http.MethodGet, "/api/v1/devices", "Token " + read, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/devices", "Bearer nope", http.StatusUnauthorized},
		{"read token reads", http.MethodGet, "/api/v1/devices", "Bearer " + read, http.StatusOK},
		{"read token cannot toggle", http.MethodPost, "/api/v1/devices/d1/toggle", "Bearer " + read, http.StatusForbidden},
		{"control token toggles", http.MethodPost, "/api/v1/devices/d1/toggle", "Bearer " + control, http.StatusAccepted},
		{"query token on GET", http.MethodGet, "/api/v1/fetches?token=" + read, "", http.StatusOK},
		{"query token ignored on POST", http.MethodPost, "/api/v1/devices/reload?token=" + control, "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.srv.buildRouter().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("%s %s status = %d, want %d (body %s)", tt.method, tt.path, w.Code, tt.wantStatus, strings.TrimSpace(w.Body.String()))
			}
		})
	}
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	env := testServer(t, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/devices", ""); w.Code != http.StatusOK {
		t.Errorf("GET /devices without secret status = %d, want %d", w.Code, http.StatusOK)
	}
}
