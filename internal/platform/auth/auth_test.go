package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{Mode: ModeOIDC}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("oidc mode without issuer should fail")
	}

	cfg = Config{Mode: ModeOIDC, OIDCIssuerURL: "https://issuer.example", OIDCAudience: "branchops", EmailClaim: "email"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid oidc config: %v", err)
	}

	cfg = Config{Mode: ModeDisabled}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode: %v", err)
	}

	cfg = Config{Mode: "magic"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}

func TestDevAuthenticator(t *testing.T) {
	a := DevAuthenticator{Subject: "dev-user", Email: "dev@example.local"}
	identity, err := a.Authenticate(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("Authenticate() err=%v", err)
	}
	if identity.Subject != "dev-user" {
		t.Fatalf("subject=%q, want dev-user", identity.Subject)
	}
}

func TestMiddlewareRejectsUnauthenticated(t *testing.T) {
	handler := Middleware(failingAuthenticator{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/run-batches", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", rec.Code)
	}
}

func TestMiddlewareStoresIdentity(t *testing.T) {
	var seen Identity
	handler := Middleware(DevAuthenticator{Subject: "s"}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if seen.Subject != "s" {
		t.Fatalf("identity not stored in context")
	}
}

func TestMiddlewareNilAuthenticatorPassesThrough(t *testing.T) {
	called := false
	handler := Middleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("handler should run with auth disabled")
	}
}

type failingAuthenticator struct{}

func (failingAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{}, ErrUnauthenticated
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := bearerToken(r); got != "" {
		t.Fatalf("bearerToken()=%q, want empty", got)
	}
	r.Header.Set("Authorization", "Bearer abc123")
	if got := bearerToken(r); got != "abc123" {
		t.Fatalf("bearerToken()=%q, want abc123", got)
	}
	r.Header.Set("Authorization", "Basic abc123")
	if got := bearerToken(r); got != "" {
		t.Fatalf("bearerToken()=%q, want empty for basic auth", got)
	}
}
