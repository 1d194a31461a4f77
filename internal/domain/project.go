package domain

import (
	"errors"
	"strings"
	"time"
)

// Project is the logical container of branches. Created once, long-lived.
type Project struct {
	ID            string
	DefaultBranch string
	CreatedAt     time.Time
}

func (p Project) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(p.DefaultBranch) == "" {
		return errors.New("default branch is required")
	}
	return nil
}

// Credential is a provider-issued database credential for one branch
// endpoint. Tokens are short-lived; callers re-request when stale.
type Credential struct {
	Host      string
	Port      int
	Database  string
	User      string
	Token     string
	ExpiresAt time.Time
}

func (c Credential) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("database is required")
	}
	if strings.TrimSpace(c.User) == "" {
		return errors.New("user is required")
	}
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("token is required")
	}
	return nil
}

// Stale reports whether the credential expires within the given margin.
func (c Credential) Stale(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}
