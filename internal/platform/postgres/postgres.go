// Package postgres opens database/sql connections to branch endpoints using
// provider-issued credentials. Every branch shares the pgx stdlib driver;
// only host and token differ per branch.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/platform/env"
)

type Config struct {
	SSLMode         string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func ConfigFromEnv() (Config, error) {
	pingTimeout, err := env.Duration("BRANCHOPS_DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := env.Int("BRANCHOPS_DB_MAX_OPEN_CONNS", 5)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := env.Int("BRANCHOPS_DB_MAX_IDLE_CONNS", 2)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := env.Duration("BRANCHOPS_DB_CONN_MAX_LIFETIME", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		SSLMode:         env.String("BRANCHOPS_DB_SSLMODE", "require"),
		PingTimeout:     pingTimeout,
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.SSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("BRANCHOPS_DB_SSLMODE invalid: %q", c.SSLMode)
	}
	if c.PingTimeout <= 0 {
		return errors.New("BRANCHOPS_DB_PING_TIMEOUT must be positive")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("BRANCHOPS_DB_MAX_OPEN_CONNS must be >= 1")
	}
	if c.MaxIdleConns < 0 {
		return errors.New("BRANCHOPS_DB_MAX_IDLE_CONNS must be >= 0")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("BRANCHOPS_DB_CONN_MAX_LIFETIME must be >= 0")
	}
	return nil
}

// DSN renders a credential as a pgx connection string. The provider token is
// the password; tokens are short-lived, so pools built from one credential
// must not outlive it.
func (c Config) DSN(cred domain.Credential) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cred.User, cred.Token),
		Host:   fmt.Sprintf("%s:%d", cred.Host, cred.Port),
		Path:   "/" + cred.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open dials a branch endpoint with the given credential and verifies the
// connection with a bounded ping.
func Open(ctx context.Context, cfg Config, cred domain.Credential) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cred.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN(cred))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return db, nil
}
