// Package coordinator fans a batch of run specs out across short-lived
// branches: one branch per spec, bounded concurrency, branch deleted the
// moment its run finishes. The aggregate report is always produced, in
// input-spec order, even when individual runs fail or error.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/orchestrator"
	"github.com/branchops-labs/branchops-go/internal/platform/env"
)

// Predicate is the per-spec acceptance check, run against the spec's branch
// after its migration units have applied. False is a failed run; an error is
// an errored run.
type Predicate func(ctx context.Context, db orchestrator.DB) (bool, error)

// Spec describes one ephemeral run: the units to validate and the check
// that decides pass/fail. A nil Check passes once the units apply cleanly.
type Spec struct {
	Name  string
	TTL   time.Duration
	Units []domain.MigrationUnit
	Check Predicate
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("spec name is required")
	}
	if s.TTL < 0 {
		return errors.New("ttl must be >= 0")
	}
	for _, unit := range s.Units {
		if err := unit.Validate(); err != nil {
			return fmt.Errorf("spec %s: %w", s.Name, err)
		}
	}
	return nil
}

type Config struct {
	// MaxInFlight caps concurrently live branches; providers cap branches
	// per project, so the ceiling is theirs, not ours.
	MaxInFlight int
	// RunTimeout bounds one spec's full lifecycle, teardown excluded.
	RunTimeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	maxInFlight, err := env.Int("BRANCHOPS_MAX_IN_FLIGHT", 10)
	if err != nil {
		return Config{}, err
	}
	runTimeout, err := env.Duration("BRANCHOPS_RUN_TIMEOUT", 10*time.Minute)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{MaxInFlight: maxInFlight, RunTimeout: runTimeout}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.MaxInFlight < 1 {
		return errors.New("BRANCHOPS_MAX_IN_FLIGHT must be >= 1")
	}
	if c.RunTimeout <= 0 {
		return errors.New("BRANCHOPS_RUN_TIMEOUT must be positive")
	}
	return nil
}

// SnapshotArchiver persists the schema signature of a run's branch before
// teardown, for post-hoc investigation of what the run actually validated.
type SnapshotArchiver func(ctx context.Context, branch string) error

type Coordinator struct {
	cfg     Config
	orc     *orchestrator.Orchestrator
	log     *slog.Logger
	now     func() time.Time
	archive SnapshotArchiver
}

func New(cfg Config, orc *orchestrator.Orchestrator, log *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		cfg: cfg,
		orc: orc,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// ArchiveSnapshotsWith installs fn as the per-run snapshot archiver. It is
// called after a run's units have applied and before its branch is torn
// down; archival failure is logged and never changes the run's outcome.
func (c *Coordinator) ArchiveSnapshotsWith(fn SnapshotArchiver) {
	c.archive = fn
}

// Run executes one spec on its own branch and tears the branch down before
// returning, whatever the outcome. A canceled context still attempts the
// teardown. The result is named so the deferred teardown's timestamp lands
// on the returned run.
func (c *Coordinator) Run(ctx context.Context, spec Spec) (run domain.EphemeralRun) {
	run = domain.EphemeralRun{
		ID:        uuid.NewString(),
		SpecName:  spec.Name,
		Outcome:   domain.RunOutcomePending,
		CreatedAt: c.now(),
	}
	if err := spec.Validate(); err != nil {
		run.Outcome = domain.RunOutcomeErrored
		run.Detail = err.Error()
		return run
	}
	run.Branch = fmt.Sprintf("run-%s-%s", spec.Name, run.ID[:8])

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.RunTimeout)
	defer cancel()

	if _, err := c.orc.CreateValidationBranch(runCtx, run.Branch, spec.TTL); err != nil {
		run.Outcome = domain.RunOutcomeErrored
		run.Detail = fmt.Sprintf("create branch: %v", err)
		return run
	}
	defer c.teardown(ctx, &run)

	run.Outcome, run.Detail = c.execute(runCtx, spec, run.Branch)
	if c.archive != nil && run.Outcome != domain.RunOutcomeErrored {
		if err := c.archive(runCtx, run.Branch); err != nil {
			c.log.Warn("run snapshot not archived", "run", run.ID, "branch", run.Branch, "error", err)
		}
	}
	return run
}

func (c *Coordinator) execute(ctx context.Context, spec Spec, branch string) (domain.RunOutcome, string) {
	if err := c.orc.ApplyUnits(ctx, branch, spec.Units); err != nil {
		return domain.RunOutcomeErrored, fmt.Sprintf("apply units: %v", err)
	}
	if spec.Check == nil {
		return domain.RunOutcomePassed, ""
	}

	db, err := c.orc.Connect(ctx, branch)
	if err != nil {
		return domain.RunOutcomeErrored, fmt.Sprintf("connect: %v", err)
	}
	defer func() { _ = db.Close() }()

	ok, err := spec.Check(ctx, db)
	if err != nil {
		return domain.RunOutcomeErrored, fmt.Sprintf("check: %v", err)
	}
	if !ok {
		return domain.RunOutcomeFailed, "test predicate returned false"
	}
	return domain.RunOutcomePassed, ""
}

// teardown deletes the run's branch even when the batch context is already
// canceled; leaked branches cost until their TTL fires.
func (c *Coordinator) teardown(ctx context.Context, run *domain.EphemeralRun) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.orc.Teardown(cleanupCtx, run.Branch); err != nil {
		c.log.Warn("run branch not torn down", "run", run.ID, "branch", run.Branch, "error", err)
		return
	}
	at := c.now()
	run.TornDownAt = &at
}

// RunAll executes the specs with bounded concurrency and reports results in
// input-spec order. One run's failure never stops the others.
func (c *Coordinator) RunAll(ctx context.Context, specs []Spec) domain.RunReport {
	report := domain.RunReport{
		BatchID:   uuid.NewString(),
		Runs:      make([]domain.EphemeralRun, len(specs)),
		StartedAt: c.now(),
	}
	c.log.Info("run batch started", "batch", report.BatchID, "specs", len(specs), "max_in_flight", c.cfg.MaxInFlight)

	sem := semaphore.NewWeighted(int64(c.cfg.MaxInFlight))
	var wg sync.WaitGroup
	for i, spec := range specs {
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Runs[i] = domain.EphemeralRun{
				ID:        uuid.NewString(),
				SpecName:  spec.Name,
				Outcome:   domain.RunOutcomeErrored,
				Detail:    fmt.Sprintf("batch canceled: %v", err),
				CreatedAt: c.now(),
			}
			continue
		}
		wg.Add(1)
		go func(i int, spec Spec) {
			defer wg.Done()
			defer sem.Release(1)
			report.Runs[i] = c.Run(ctx, spec)
		}(i, spec)
	}
	wg.Wait()

	report.FinishedAt = c.now()
	report.Tally()
	c.log.Info("run batch finished", "batch", report.BatchID,
		"passed", report.Passed, "failed", report.Failed, "errored", report.Errored)
	return report
}
