package orchestrator

import (
	"errors"
	"strings"
	"time"

	"github.com/branchops-labs/branchops-go/internal/platform/env"
)

type Config struct {
	// ProjectID is the provider project holding every branch.
	ProjectID string
	// Parent is the branch new validation branches derive from.
	Parent string
	// Schema is the Postgres schema snapshots and drift checks cover.
	Schema string

	// ProvisionTimeout bounds how long a newly created branch may stay in
	// provisioning before creation fails.
	ProvisionTimeout time.Duration
	// PollInterval paces readiness polling and the expiry watcher.
	PollInterval time.Duration
	// DeleteRetries bounds teardown retries on transient provider failure.
	DeleteRetries int
	// RetryBackoff is the linear backoff step between teardown retries.
	RetryBackoff time.Duration
	// ExpiryWarn is how far ahead of a branch's expiry the watcher warns.
	ExpiryWarn time.Duration
	// CredentialMargin is how long before expiry a cached credential is
	// considered stale and re-requested.
	CredentialMargin time.Duration
}

func ConfigFromEnv() (Config, error) {
	provisionTimeout, err := env.Duration("BRANCHOPS_PROVISION_TIMEOUT", 2*time.Minute)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := env.Duration("BRANCHOPS_POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return Config{}, err
	}
	deleteRetries, err := env.Int("BRANCHOPS_DELETE_RETRIES", 3)
	if err != nil {
		return Config{}, err
	}
	retryBackoff, err := env.Duration("BRANCHOPS_RETRY_BACKOFF", 500*time.Millisecond)
	if err != nil {
		return Config{}, err
	}
	expiryWarn, err := env.Duration("BRANCHOPS_EXPIRY_WARN", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	credentialMargin, err := env.Duration("BRANCHOPS_CREDENTIAL_MARGIN", time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		ProjectID:        env.String("BRANCHOPS_PROJECT_ID", ""),
		Parent:           env.String("BRANCHOPS_PARENT_BRANCH", "main"),
		Schema:           env.String("BRANCHOPS_SCHEMA", "public"),
		ProvisionTimeout: provisionTimeout,
		PollInterval:     pollInterval,
		DeleteRetries:    deleteRetries,
		RetryBackoff:     retryBackoff,
		ExpiryWarn:       expiryWarn,
		CredentialMargin: credentialMargin,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("BRANCHOPS_PROJECT_ID is required")
	}
	if strings.TrimSpace(c.Parent) == "" {
		return errors.New("BRANCHOPS_PARENT_BRANCH is required")
	}
	if strings.TrimSpace(c.Schema) == "" {
		return errors.New("BRANCHOPS_SCHEMA is required")
	}
	if c.ProvisionTimeout <= 0 {
		return errors.New("BRANCHOPS_PROVISION_TIMEOUT must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("BRANCHOPS_POLL_INTERVAL must be positive")
	}
	if c.DeleteRetries < 0 {
		return errors.New("BRANCHOPS_DELETE_RETRIES must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return errors.New("BRANCHOPS_RETRY_BACKOFF must be >= 0")
	}
	if c.ExpiryWarn < 0 {
		return errors.New("BRANCHOPS_EXPIRY_WARN must be >= 0")
	}
	if c.CredentialMargin < 0 {
		return errors.New("BRANCHOPS_CREDENTIAL_MARGIN must be >= 0")
	}
	return nil
}
