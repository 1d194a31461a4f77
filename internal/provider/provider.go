// Package provider wraps the external managed-Postgres branching service.
// The orchestrator treats it strictly as a remote boundary: cheap
// copy-on-write branch creation, branch-local divergence, TTL enforcement
// on the provider side.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/branchops-labs/branchops-go/internal/domain"
)

// Client is the branching provider contract. All operations may block on
// network I/O; none are assumed instantaneous.
type Client interface {
	// CreateBranch derives a new branch from the request's parent. Fails
	// with ErrNameConflict when the name is already taken in the project.
	CreateBranch(ctx context.Context, req CreateBranchRequest) (domain.Branch, error)

	GetBranch(ctx context.Context, projectID, name string) (domain.Branch, error)

	// ListBranches produces a finite snapshot list, not a live feed.
	ListBranches(ctx context.Context, projectID string) ([]domain.Branch, error)

	// ResetBranch re-derives the branch from its parent's current state,
	// discarding branch-local divergence and restarting the TTL countdown.
	// The connection endpoint identity is preserved.
	ResetBranch(ctx context.Context, projectID, name string) (domain.Branch, error)

	// DeleteBranch is idempotent: deleting an already-deleted or expired
	// branch is a no-op success.
	DeleteBranch(ctx context.Context, projectID, name string) error

	// GenerateCredential returns a short-lived database credential for the
	// branch endpoint. Fails with ErrBranchNotReady while provisioning.
	GenerateCredential(ctx context.Context, projectID, name string) (domain.Credential, error)
}

// CreateBranchRequest carries the branch spec for CreateBranch.
type CreateBranchRequest struct {
	ProjectID  string
	Name       string
	Parent     string
	TTL        time.Duration // 0 means no expiry
	SourceTime *time.Time    // point-in-time source for recovery branches
}

func (r CreateBranchRequest) Validate() error {
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("branch name is required")
	}
	if strings.TrimSpace(r.Parent) == "" {
		return errors.New("parent branch is required")
	}
	if r.TTL < 0 {
		return errors.New("ttl must be >= 0")
	}
	return nil
}
