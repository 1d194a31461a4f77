// Package registry holds the ordered, idempotent migration units and the
// per-target application log used for replay auditing.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/branchops-labs/branchops-go/internal/domain"
)

var (
	// ErrDuplicateSequence is a configuration error at registration time,
	// never a runtime condition.
	ErrDuplicateSequence = errors.New("duplicate migration sequence")
)

// ChecksumConflictError means a unit arrived for a sequence number that was
// already applied to the target with different SQL text. Edited-after-apply
// is rejected, never silently replayed.
type ChecksumConflictError struct {
	Target   string
	Sequence int
	Applied  string
	Offered  string
}

func (e *ChecksumConflictError) Error() string {
	return fmt.Sprintf("checksum conflict on %s seq %d: applied %.12s, offered %.12s",
		e.Target, e.Sequence, e.Applied, e.Offered)
}

// Executor is the SQL boundary a unit is applied against. *sql.DB satisfies it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppliedRecord is one entry of the application log.
type AppliedRecord struct {
	Unit      domain.MigrationUnit
	AppliedAt time.Time
}

// Registry is shared and read-only during a run; registration happens at
// configuration time.
type Registry struct {
	mu      sync.Mutex
	units   map[int]domain.MigrationUnit
	applied map[string]map[int]AppliedRecord // target -> sequence -> record
	now     func() time.Time
}

func New() *Registry {
	return &Registry{
		units:   make(map[int]domain.MigrationUnit),
		applied: make(map[string]map[int]AppliedRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Register(unit domain.MigrationUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.units[unit.Sequence]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateSequence, unit.Sequence)
	}
	r.units[unit.Sequence] = unit
	return nil
}

// OrderedUnits returns registered units with sequence >= fromSeq in
// ascending order. Pure function of registry state, restartable.
func (r *Registry) OrderedUnits(fromSeq int) []domain.MigrationUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.MigrationUnit, 0, len(r.units))
	for seq, unit := range r.units {
		if seq >= fromSeq {
			out = append(out, unit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Apply executes one unit against the target and records it in the
// application log. Re-applying an identical unit is allowed (the idempotence
// contract makes replay-from-start the documented recovery); a different
// checksum for an applied sequence fails with ChecksumConflictError.
func (r *Registry) Apply(ctx context.Context, target string, exec Executor, unit domain.MigrationUnit) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	if err := r.checkApplied(target, unit); err != nil {
		return err
	}

	if _, err := exec.ExecContext(ctx, unit.SQL); err != nil {
		return fmt.Errorf("apply seq %d (%s): %w", unit.Sequence, unit.Name, err)
	}
	if err := recordLedger(ctx, exec, unit, r.now()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byTarget, ok := r.applied[target]
	if !ok {
		byTarget = make(map[int]AppliedRecord)
		r.applied[target] = byTarget
	}
	byTarget[unit.Sequence] = AppliedRecord{Unit: unit, AppliedAt: r.now()}
	return nil
}

// ApplyAll applies units in ascending sequence order regardless of the
// order given. Not transactional: a failure partway leaves earlier units
// applied, which is safe under the idempotence contract.
func (r *Registry) ApplyAll(ctx context.Context, target string, exec Executor, units []domain.MigrationUnit) error {
	ordered := make([]domain.MigrationUnit, len(units))
	copy(ordered, units)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })
	for _, unit := range ordered {
		if err := r.Apply(ctx, target, exec, unit); err != nil {
			return err
		}
	}
	return nil
}

// AppliedLog returns the target's application log in sequence order.
func (r *Registry) AppliedLog(target string) []AppliedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	records := make([]AppliedRecord, 0, len(r.applied[target]))
	for _, record := range r.applied[target] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Unit.Sequence < records[j].Unit.Sequence })
	return records
}

func (r *Registry) checkApplied(target string, unit domain.MigrationUnit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.applied[target][unit.Sequence]
	if !ok {
		return nil
	}
	if record.Unit.Checksum != unit.Checksum {
		return &ChecksumConflictError{
			Target:   target,
			Sequence: unit.Sequence,
			Applied:  record.Unit.Checksum,
			Offered:  unit.Checksum,
		}
	}
	return nil
}
