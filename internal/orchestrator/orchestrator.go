// Package orchestrator drives branch lifecycles end to end: create a
// validation branch, apply migration units, gate promotion on drift, rebase
// stale branches, and tear everything down. It owns the client-side state
// machine; the provider owns the branches themselves.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/provider"
	"github.com/branchops-labs/branchops-go/internal/registry"
	"github.com/branchops-labs/branchops-go/internal/schemadiff"
)

// DB is the SQL surface the orchestrator needs from a branch connection.
// *sql.DB satisfies it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// Connector dials a branch endpoint from a provider credential.
type Connector interface {
	Connect(ctx context.Context, cred domain.Credential) (DB, error)
}

type Orchestrator struct {
	cfg       Config
	client    provider.Client
	reg       *registry.Registry
	connector Connector
	log       *slog.Logger

	// snapshot is swappable so lifecycle tests run without *sql.Rows.
	snapshot func(ctx context.Context, db DB, schema string) (domain.SchemaSnapshot, error)
	now      func() time.Time

	mu     sync.Mutex
	states map[string]domain.BranchState
	creds  map[string]domain.Credential
}

func New(cfg Config, client provider.Client, reg *registry.Registry, connector Connector, log *slog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Orchestrator{
		cfg:       cfg,
		client:    client,
		reg:       reg,
		connector: connector,
		log:       log,
		snapshot: func(ctx context.Context, db DB, schema string) (domain.SchemaSnapshot, error) {
			return schemadiff.Snapshot(ctx, db, schema)
		},
		now:    func() time.Time { return time.Now().UTC() },
		states: make(map[string]domain.BranchState),
		creds:  make(map[string]domain.Credential),
	}, nil
}

// State returns the last observed lifecycle state for a branch.
func (o *Orchestrator) State(name string) (domain.BranchState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	state, ok := o.states[name]
	return state, ok
}

// transition moves a tracked branch to next, refusing illegal edges. An
// untracked branch is adopted at next directly.
func (o *Orchestrator) transition(name string, next domain.BranchState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	current, tracked := o.states[name]
	if tracked && current.Terminal() {
		// A deleted branch name can be reused; the old lifecycle is over.
		tracked = false
	}
	if tracked && current != next && !current.CanTransitionTo(next) {
		return fmt.Errorf("branch %s: illegal transition %s -> %s", name, current, next)
	}
	o.states[name] = next
	o.log.Info("branch state", "branch", name, "state", next)
	return nil
}

// observe records a provider-reported state without transition enforcement.
// The provider is authoritative for states it reports; skipped edges only
// mean we missed intermediate polls.
func (o *Orchestrator) observe(branch domain.Branch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.states[branch.Name]; ok && prev == branch.State {
		return
	}
	o.states[branch.Name] = branch.State
	o.log.Info("branch observed", "branch", branch.Name, "state", branch.State)
}

// CreateValidationBranch derives a branch from the configured parent and
// blocks until it is active or the provisioning timeout elapses.
func (o *Orchestrator) CreateValidationBranch(ctx context.Context, name string, ttl time.Duration) (domain.Branch, error) {
	return o.create(ctx, provider.CreateBranchRequest{
		ProjectID: o.cfg.ProjectID,
		Name:      name,
		Parent:    o.cfg.Parent,
		TTL:       ttl,
	})
}

// CreateRecoveryBranch derives a branch from the parent's state at a past
// instant, for inspecting or restoring data as it stood then.
func (o *Orchestrator) CreateRecoveryBranch(ctx context.Context, name string, at time.Time, ttl time.Duration) (domain.Branch, error) {
	return o.create(ctx, provider.CreateBranchRequest{
		ProjectID:  o.cfg.ProjectID,
		Name:       name,
		Parent:     o.cfg.Parent,
		TTL:        ttl,
		SourceTime: &at,
	})
}

func (o *Orchestrator) create(ctx context.Context, req provider.CreateBranchRequest) (domain.Branch, error) {
	if state, tracked := o.State(req.Name); tracked && !state.Terminal() {
		// The name is still live under this orchestrator; no point asking
		// the provider.
		return domain.Branch{}, fmt.Errorf("create branch %s: %w", req.Name, provider.ErrNameConflict)
	}
	if err := o.transition(req.Name, domain.BranchStateRequested); err != nil {
		return domain.Branch{}, err
	}

	branch, err := o.client.CreateBranch(ctx, req)
	if err != nil {
		_ = o.transition(req.Name, domain.BranchStateError)
		return domain.Branch{}, fmt.Errorf("create branch %s: %w", req.Name, err)
	}
	if err := o.transition(req.Name, domain.BranchStateProvisioning); err != nil {
		return domain.Branch{}, err
	}

	if branch.State != domain.BranchStateActive {
		branch, err = o.awaitActive(ctx, req.Name)
		if err != nil {
			_ = o.transition(req.Name, domain.BranchStateError)
			return domain.Branch{}, err
		}
	}
	if err := o.transition(req.Name, domain.BranchStateActive); err != nil {
		return domain.Branch{}, err
	}
	o.log.Info("branch ready", "branch", branch.Name, "parent", branch.Parent, "ttl", branch.TTL)
	return branch, nil
}

// awaitActive polls the provider until the branch reports active, bounded by
// the provisioning timeout.
func (o *Orchestrator) awaitActive(ctx context.Context, name string) (domain.Branch, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProvisionTimeout)
	defer cancel()

	for {
		branch, err := o.client.GetBranch(ctx, o.cfg.ProjectID, name)
		if err == nil {
			switch branch.State {
			case domain.BranchStateActive:
				return branch, nil
			case domain.BranchStateError, domain.BranchStateDeleted:
				return domain.Branch{}, fmt.Errorf("branch %s entered %s while provisioning", name, branch.State)
			}
		} else if !provider.Transient(err) {
			return domain.Branch{}, fmt.Errorf("poll branch %s: %w", name, err)
		}

		select {
		case <-ctx.Done():
			return domain.Branch{}, fmt.Errorf("branch %s: %w: provisioning timed out", name, provider.ErrBranchNotReady)
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// Reset re-derives the branch from the parent's current state, discarding
// branch-local divergence. The endpoint (and any cached credential) survives.
func (o *Orchestrator) Reset(ctx context.Context, name string) (domain.Branch, error) {
	branch, err := o.client.ResetBranch(ctx, o.cfg.ProjectID, name)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("reset branch %s: %w", name, err)
	}
	o.observe(branch)
	o.log.Info("branch reset", "branch", name)
	return branch, nil
}

// Connect opens a database connection to the branch, requesting a fresh
// credential when none is cached or the cached one is near expiry. Touching
// a suspended branch resumes it on the provider side.
func (o *Orchestrator) Connect(ctx context.Context, name string) (DB, error) {
	cred, err := o.credential(ctx, name)
	if err != nil {
		return nil, err
	}
	db, err := o.connector.Connect(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("connect branch %s: %w", name, err)
	}
	o.mu.Lock()
	if o.states[name] == domain.BranchStateSuspended {
		o.states[name] = domain.BranchStateActive
		o.log.Info("branch resumed", "branch", name)
	}
	o.mu.Unlock()
	return db, nil
}

func (o *Orchestrator) credential(ctx context.Context, name string) (domain.Credential, error) {
	o.mu.Lock()
	cached, ok := o.creds[name]
	o.mu.Unlock()
	if ok && !cached.Stale(o.now(), o.cfg.CredentialMargin) {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.ProvisionTimeout)
	defer cancel()
	for {
		cred, err := o.client.GenerateCredential(ctx, o.cfg.ProjectID, name)
		if err == nil {
			o.mu.Lock()
			o.creds[name] = cred
			o.mu.Unlock()
			return cred, nil
		}
		if !provider.Transient(err) {
			return domain.Credential{}, fmt.Errorf("credential for %s: %w", name, err)
		}
		select {
		case <-ctx.Done():
			return domain.Credential{}, fmt.Errorf("credential for %s: %w", name, err)
		case <-time.After(o.cfg.PollInterval):
		}
	}
}

// ApplyUnits applies migration units to the branch in sequence order.
func (o *Orchestrator) ApplyUnits(ctx context.Context, name string, units []domain.MigrationUnit) error {
	db, err := o.Connect(ctx, name)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return o.reg.ApplyAll(ctx, name, db, units)
}

// Promote replays the branch's validated units onto the parent, gated by a
// fresh drift check. Type conflicts block with DriftConflictError; parent-side
// additions the branch has not seen produce a warning only. The replay is
// not transactional: a partial failure leaves the parent mid-promotion, and
// recovery is re-running Promote (unit idempotence makes that safe).
func (o *Orchestrator) Promote(ctx context.Context, name string, units []domain.MigrationUnit) (domain.DriftReport, error) {
	report, err := o.driftCheck(ctx, name)
	if err != nil {
		return domain.DriftReport{}, err
	}
	if report.Blocked() {
		return report, &DriftConflictError{Base: o.cfg.Parent, Candidate: name, Report: report}
	}
	if report.BehindParent() {
		o.log.Warn("branch behind parent, promoting anyway",
			"branch", name, "parent_only_columns", len(report.AddedInBase))
	}

	parentDB, err := o.Connect(ctx, o.cfg.Parent)
	if err != nil {
		return report, err
	}
	defer func() { _ = parentDB.Close() }()

	if err := o.reg.ApplyAll(ctx, o.cfg.Parent, parentDB, units); err != nil {
		return report, fmt.Errorf("promote %s: %w", name, err)
	}
	o.log.Info("branch promoted", "branch", name, "parent", o.cfg.Parent, "units", len(units))
	return report, nil
}

// Rebase replaces a stale branch with a fresh derivation of the parent's
// current state and replays the units onto it. The drift check runs first;
// the new branch is created only after it passes, so the check cannot race
// the branch it is meant to protect. The stale branch is torn down last.
func (o *Orchestrator) Rebase(ctx context.Context, stale string, units []domain.MigrationUnit) (domain.Branch, error) {
	report, err := o.driftCheck(ctx, stale)
	if err != nil {
		return domain.Branch{}, err
	}
	if report.Blocked() {
		return domain.Branch{}, &DriftConflictError{Base: o.cfg.Parent, Candidate: stale, Report: report}
	}

	old, err := o.client.GetBranch(ctx, o.cfg.ProjectID, stale)
	if err != nil {
		return domain.Branch{}, fmt.Errorf("rebase %s: %w", stale, err)
	}

	fresh := fmt.Sprintf("%s-rebase-%s", stale, uuid.NewString()[:8])
	branch, err := o.create(ctx, provider.CreateBranchRequest{
		ProjectID: o.cfg.ProjectID,
		Name:      fresh,
		Parent:    o.cfg.Parent,
		TTL:       old.TTL,
	})
	if err != nil {
		return domain.Branch{}, err
	}

	if err := o.ApplyUnits(ctx, fresh, units); err != nil {
		// Leave nothing half-built behind.
		_ = o.Teardown(ctx, fresh)
		return domain.Branch{}, fmt.Errorf("rebase %s onto %s: %w", stale, fresh, err)
	}

	if err := o.Teardown(ctx, stale); err != nil {
		o.log.Warn("stale branch left behind after rebase", "branch", stale, "error", err)
	}
	o.log.Info("branch rebased", "stale", stale, "fresh", fresh)
	return branch, nil
}

// SnapshotBranch connects to the branch and captures its current schema
// signature.
func (o *Orchestrator) SnapshotBranch(ctx context.Context, name string) (domain.SchemaSnapshot, error) {
	db, err := o.Connect(ctx, name)
	if err != nil {
		return domain.SchemaSnapshot{}, err
	}
	defer func() { _ = db.Close() }()
	snapshot, err := o.snapshot(ctx, db, o.cfg.Schema)
	if err != nil {
		return domain.SchemaSnapshot{}, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return snapshot, nil
}

func (o *Orchestrator) driftCheck(ctx context.Context, name string) (domain.DriftReport, error) {
	base, err := o.SnapshotBranch(ctx, o.cfg.Parent)
	if err != nil {
		return domain.DriftReport{}, err
	}
	candidate, err := o.SnapshotBranch(ctx, name)
	if err != nil {
		return domain.DriftReport{}, err
	}
	return schemadiff.Diff(base, candidate), nil
}

// Teardown deletes the branch, retrying transient provider failures with
// linear backoff. Deleting a branch that is already gone is a success.
func (o *Orchestrator) Teardown(ctx context.Context, name string) error {
	var lastErr error
	for attempt := 0; attempt <= o.cfg.DeleteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			case <-time.After(time.Duration(attempt) * o.cfg.RetryBackoff):
			}
		}
		lastErr = o.client.DeleteBranch(ctx, o.cfg.ProjectID, name)
		if lastErr == nil {
			o.mu.Lock()
			o.states[name] = domain.BranchStateDeleted
			delete(o.creds, name)
			o.mu.Unlock()
			o.log.Info("branch deleted", "branch", name)
			return nil
		}
		if !provider.Transient(lastErr) {
			return fmt.Errorf("teardown %s: %w", name, lastErr)
		}
	}
	return fmt.Errorf("teardown %s: %w", name, lastErr)
}

// Parent returns the configured promotion target branch.
func (o *Orchestrator) Parent() string { return o.cfg.Parent }

// ProjectID returns the provider project all branches live in.
func (o *Orchestrator) ProjectID() string { return o.cfg.ProjectID }
