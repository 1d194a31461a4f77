package domain

import (
	"errors"
	"strings"
	"time"
)

// BranchState is the orchestrator's view of a branch lifecycle.
type BranchState string

const (
	BranchStateRequested    BranchState = "requested"
	BranchStateProvisioning BranchState = "provisioning"
	BranchStateActive       BranchState = "active"
	BranchStateSuspended    BranchState = "suspended"
	BranchStateExpiring     BranchState = "expiring"
	BranchStateDeleted      BranchState = "deleted"
	BranchStateError        BranchState = "error"
)

var branchTransitions = map[BranchState][]BranchState{
	BranchStateRequested:    {BranchStateProvisioning, BranchStateError, BranchStateDeleted},
	BranchStateProvisioning: {BranchStateActive, BranchStateError, BranchStateDeleted},
	BranchStateActive:       {BranchStateSuspended, BranchStateExpiring, BranchStateDeleted},
	BranchStateSuspended:    {BranchStateActive, BranchStateExpiring, BranchStateDeleted},
	BranchStateExpiring:     {BranchStateDeleted},
}

// Terminal reports whether no further transitions are possible.
func (s BranchState) Terminal() bool {
	return s == BranchStateDeleted || s == BranchStateError
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s BranchState) CanTransitionTo(next BranchState) bool {
	for _, candidate := range branchTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func (s BranchState) Valid() bool {
	switch s {
	case BranchStateRequested, BranchStateProvisioning, BranchStateActive,
		BranchStateSuspended, BranchStateExpiring, BranchStateDeleted, BranchStateError:
		return true
	}
	return false
}

// Branch is a named, isolated database instance derived from a parent at a
// specific instant. Divergence after creation is branch-local and never
// visible to the parent.
type Branch struct {
	Name       string
	ProjectID  string
	Parent     string // empty only for the default branch
	Default    bool
	State      BranchState
	CreatedAt  time.Time
	TTL        time.Duration // 0 means no expiry
	SourceTime *time.Time    // set for point-in-time recovery branches
	ExpiresAt  *time.Time    // provider-reported estimate, advisory only
}

func (b Branch) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return errors.New("branch name is required")
	}
	if strings.TrimSpace(b.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(b.Parent) == "" && !b.Default {
		return errors.New("parent is required for non-default branches")
	}
	if b.State != "" && !b.State.Valid() {
		return errors.New("invalid branch state")
	}
	if b.TTL < 0 {
		return errors.New("ttl must be >= 0")
	}
	return nil
}

// ExpiresWithin reports whether the branch's advisory expiry deadline falls
// inside the next d, measured from now.
func (b Branch) ExpiresWithin(d time.Duration, now time.Time) bool {
	if b.ExpiresAt == nil {
		return false
	}
	return b.ExpiresAt.Sub(now) <= d
}
