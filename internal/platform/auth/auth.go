// Package auth authenticates callers of the runnerd API. OIDC bearer tokens
// in production, a fixed identity in dev, or disabled for local scripting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/branchops-labs/branchops-go/internal/platform/env"
)

type Mode string

const (
	ModeOIDC     Mode = "oidc"
	ModeDev      Mode = "dev"
	ModeDisabled Mode = "disabled"
)

var ErrUnauthenticated = errors.New("unauthenticated")

type Config struct {
	Mode Mode

	OIDCIssuerURL string
	OIDCAudience  string
	EmailClaim    string

	DevSubject string
	DevEmail   string
}

func ConfigFromEnv() (Config, error) {
	modeRaw := strings.ToLower(strings.TrimSpace(env.String("BRANCHOPS_AUTH_MODE", string(ModeOIDC))))
	var mode Mode
	switch modeRaw {
	case string(ModeOIDC):
		mode = ModeOIDC
	case string(ModeDev):
		mode = ModeDev
	case string(ModeDisabled):
		mode = ModeDisabled
	default:
		return Config{}, fmt.Errorf("BRANCHOPS_AUTH_MODE must be one of: oidc, dev, disabled (got %q)", modeRaw)
	}

	cfg := Config{
		Mode:          mode,
		OIDCIssuerURL: env.String("BRANCHOPS_OIDC_ISSUER_URL", ""),
		OIDCAudience:  env.String("BRANCHOPS_OIDC_AUDIENCE", ""),
		EmailClaim:    env.String("BRANCHOPS_OIDC_EMAIL_CLAIM", "email"),
		DevSubject:    env.String("BRANCHOPS_DEV_AUTH_SUBJECT", "dev-user"),
		DevEmail:      env.String("BRANCHOPS_DEV_AUTH_EMAIL", "dev-user@example.local"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeOIDC:
		if strings.TrimSpace(c.OIDCIssuerURL) == "" {
			return errors.New("BRANCHOPS_OIDC_ISSUER_URL is required when auth mode is oidc")
		}
		if strings.TrimSpace(c.OIDCAudience) == "" {
			return errors.New("BRANCHOPS_OIDC_AUDIENCE is required when auth mode is oidc")
		}
		if strings.TrimSpace(c.EmailClaim) == "" {
			return errors.New("BRANCHOPS_OIDC_EMAIL_CLAIM is required when auth mode is oidc")
		}
	case ModeDev:
		if strings.TrimSpace(c.DevSubject) == "" {
			return errors.New("BRANCHOPS_DEV_AUTH_SUBJECT is required when auth mode is dev")
		}
	case ModeDisabled:
	default:
		return fmt.Errorf("unsupported auth mode: %q", c.Mode)
	}
	return nil
}

// Identity is the authenticated caller.
type Identity struct {
	Subject string
	Email   string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// Authenticator resolves the identity behind an incoming request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// DevAuthenticator returns a fixed identity for every request.
type DevAuthenticator struct {
	Subject string
	Email   string
}

func (a DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{Subject: a.Subject, Email: a.Email}, nil
}

// New builds the authenticator for the configured mode. A nil return with a
// nil error means auth is disabled.
func New(ctx context.Context, cfg Config) (Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeOIDC:
		return NewOIDCAuthenticator(ctx, cfg)
	case ModeDev:
		return DevAuthenticator{Subject: cfg.DevSubject, Email: cfg.DevEmail}, nil
	default:
		return nil, nil
	}
}
