// Package providertest holds an in-memory provider.Client for tests. The
// fake models the provider behaviors callers must cope with: asynchronous
// provisioning, name conflicts, transient unavailability, idempotent
// deletes, short-lived credentials.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/provider"
)

type branchRecord struct {
	branch         domain.Branch
	stepsRemaining int
}

// Fake is a provider.Client backed by a map. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	// ProvisionSteps is how many GetBranch polls a new branch needs before
	// it reports active. Zero means branches are ready immediately.
	ProvisionSteps int

	// UnavailableCreates makes the first N CreateBranch calls fail with
	// ErrUnavailable before succeeding.
	UnavailableCreates int

	// UnavailableDeletes does the same for DeleteBranch.
	UnavailableDeletes int

	// CredentialTTL controls issued credential expiry. Zero means one hour.
	CredentialTTL time.Duration

	branches   map[string]*branchRecord
	calls      []string
	credSerial int
	live       int
	maxLive    int
	now        func() time.Time
}

func New() *Fake {
	f := &Fake{
		branches: make(map[string]*branchRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
	f.seedDefault("proj-test", "main")
	return f
}

// SeedProject installs a project's default branch, replacing any prior seed.
func (f *Fake) SeedProject(projectID, defaultBranch string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seedDefault(projectID, defaultBranch)
}

func (f *Fake) seedDefault(projectID, name string) {
	f.branches[key(projectID, name)] = &branchRecord{
		branch: domain.Branch{
			Name:      name,
			ProjectID: projectID,
			Default:   true,
			State:     domain.BranchStateActive,
			CreatedAt: f.now(),
		},
	}
}

func key(projectID, name string) string {
	return projectID + "/" + name
}

// Calls returns the operation log in invocation order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// MaxLiveBranches reports the high-water mark of concurrently existing
// non-default branches, a proxy for caller fan-out.
func (f *Fake) MaxLiveBranches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

func (f *Fake) record(op, name string) {
	f.calls = append(f.calls, op+" "+name)
}

func (f *Fake) CreateBranch(ctx context.Context, req provider.CreateBranchRequest) (domain.Branch, error) {
	if err := req.Validate(); err != nil {
		return domain.Branch{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create", req.Name)

	if f.UnavailableCreates > 0 {
		f.UnavailableCreates--
		return domain.Branch{}, provider.ErrUnavailable
	}
	if _, exists := f.branches[key(req.ProjectID, req.Name)]; exists {
		return domain.Branch{}, fmt.Errorf("create %q: %w", req.Name, provider.ErrNameConflict)
	}
	if _, exists := f.branches[key(req.ProjectID, req.Parent)]; !exists {
		return domain.Branch{}, fmt.Errorf("parent %q: %w", req.Parent, provider.ErrNotFound)
	}

	state := domain.BranchStateActive
	if f.ProvisionSteps > 0 {
		state = domain.BranchStateProvisioning
	}
	now := f.now()
	branch := domain.Branch{
		Name:       req.Name,
		ProjectID:  req.ProjectID,
		Parent:     req.Parent,
		State:      state,
		CreatedAt:  now,
		TTL:        req.TTL,
		SourceTime: req.SourceTime,
	}
	if req.TTL > 0 {
		expires := now.Add(req.TTL)
		branch.ExpiresAt = &expires
	}
	f.branches[key(req.ProjectID, req.Name)] = &branchRecord{
		branch:         branch,
		stepsRemaining: f.ProvisionSteps,
	}
	f.live++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	return branch, nil
}

func (f *Fake) GetBranch(ctx context.Context, projectID, name string) (domain.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("get", name)

	rec, ok := f.branches[key(projectID, name)]
	if !ok {
		return domain.Branch{}, fmt.Errorf("get %q: %w", name, provider.ErrNotFound)
	}
	if rec.branch.State == domain.BranchStateProvisioning {
		if rec.stepsRemaining > 0 {
			rec.stepsRemaining--
		}
		if rec.stepsRemaining == 0 {
			rec.branch.State = domain.BranchStateActive
		}
	}
	return rec.branch, nil
}

func (f *Fake) ListBranches(ctx context.Context, projectID string) ([]domain.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list", projectID)

	var out []domain.Branch
	for _, rec := range f.branches {
		if rec.branch.ProjectID == projectID {
			out = append(out, rec.branch)
		}
	}
	return out, nil
}

func (f *Fake) ResetBranch(ctx context.Context, projectID, name string) (domain.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset", name)

	rec, ok := f.branches[key(projectID, name)]
	if !ok {
		return domain.Branch{}, fmt.Errorf("reset %q: %w", name, provider.ErrNotFound)
	}
	rec.branch.State = domain.BranchStateActive
	if rec.branch.TTL > 0 {
		expires := f.now().Add(rec.branch.TTL)
		rec.branch.ExpiresAt = &expires
	}
	return rec.branch, nil
}

func (f *Fake) DeleteBranch(ctx context.Context, projectID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete", name)

	if f.UnavailableDeletes > 0 {
		f.UnavailableDeletes--
		return provider.ErrUnavailable
	}
	rec, ok := f.branches[key(projectID, name)]
	if !ok {
		return nil // idempotent
	}
	if !rec.branch.Default {
		delete(f.branches, key(projectID, name))
		f.live--
	}
	return nil
}

func (f *Fake) GenerateCredential(ctx context.Context, projectID, name string) (domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("credential", name)

	rec, ok := f.branches[key(projectID, name)]
	if !ok {
		return domain.Credential{}, fmt.Errorf("credential %q: %w", name, provider.ErrNotFound)
	}
	if rec.branch.State == domain.BranchStateProvisioning {
		return domain.Credential{}, fmt.Errorf("credential %q: %w", name, provider.ErrBranchNotReady)
	}

	f.credSerial++
	ttl := f.CredentialTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	return domain.Credential{
		Host:      name + "." + projectID + ".branch.test",
		Port:      5432,
		Database:  "app",
		User:      "branchops",
		Token:     fmt.Sprintf("tok-%s-%d", name, f.credSerial),
		ExpiresAt: f.now().Add(ttl),
	}, nil
}

var _ provider.Client = (*Fake)(nil)
