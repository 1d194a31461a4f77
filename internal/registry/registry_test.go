package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/branchops-labs/branchops-go/internal/domain"
)

type fakeExec struct {
	statements []string
	failOn     string
}

func (f *fakeExec) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("exec failed")
	}
	f.statements = append(f.statements, query)
	return nil, nil
}

func TestRegisterRejectsDuplicateSequence(t *testing.T) {
	r := New()
	if err := r.Register(domain.NewMigrationUnit(1, "a", "SELECT 1")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(domain.NewMigrationUnit(1, "b", "SELECT 2"))
	if !errors.Is(err, ErrDuplicateSequence) {
		t.Fatalf("err=%v, want ErrDuplicateSequence", err)
	}
}

func TestOrderedUnitsAscendingAndRestartable(t *testing.T) {
	r := New()
	for _, seq := range []int{3, 1, 2} {
		if err := r.Register(domain.NewMigrationUnit(seq, "m", "SELECT 1")); err != nil {
			t.Fatalf("register %d: %v", seq, err)
		}
	}
	units := r.OrderedUnits(0)
	if len(units) != 3 || units[0].Sequence != 1 || units[2].Sequence != 3 {
		t.Fatalf("units out of order: %+v", units)
	}
	again := r.OrderedUnits(2)
	if len(again) != 2 || again[0].Sequence != 2 {
		t.Fatalf("from_seq filter wrong: %+v", again)
	}
}

func TestApplyRecordsLedgerAndLog(t *testing.T) {
	r := New()
	exec := &fakeExec{}
	unit := domain.NewMigrationUnit(1, "add-loyalty-tier",
		"ALTER TABLE customers ADD COLUMN IF NOT EXISTS loyalty_tier VARCHAR(20) DEFAULT 'bronze'")

	if err := r.Apply(context.Background(), "ci-pr-42", exec, unit); err != nil {
		t.Fatalf("Apply() err=%v", err)
	}

	if len(exec.statements) != 3 {
		t.Fatalf("statements=%d, want unit + ledger create + ledger insert", len(exec.statements))
	}
	if exec.statements[0] != unit.SQL {
		t.Fatalf("unit sql must run first, got %q", exec.statements[0])
	}

	log := r.AppliedLog("ci-pr-42")
	if len(log) != 1 || log[0].Unit.Sequence != 1 {
		t.Fatalf("applied log = %+v", log)
	}
	if log[0].AppliedAt.IsZero() {
		t.Fatalf("applied-at timestamp missing")
	}
}

func TestApplyIdenticalUnitTwiceIsAllowed(t *testing.T) {
	r := New()
	exec := &fakeExec{}
	unit := domain.NewMigrationUnit(1, "m", "ALTER TABLE t ADD COLUMN IF NOT EXISTS c INT")

	for i := 0; i < 2; i++ {
		if err := r.Apply(context.Background(), "main", exec, unit); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}
	if len(r.AppliedLog("main")) != 1 {
		t.Fatalf("log should hold one record per sequence")
	}
}

func TestApplyRejectsEditedUnit(t *testing.T) {
	r := New()
	exec := &fakeExec{}
	unit := domain.NewMigrationUnit(1, "m", "ALTER TABLE t ADD COLUMN IF NOT EXISTS c INT")
	if err := r.Apply(context.Background(), "main", exec, unit); err != nil {
		t.Fatalf("apply: %v", err)
	}

	edited := domain.NewMigrationUnit(1, "m", "ALTER TABLE t ADD COLUMN IF NOT EXISTS c BIGINT")
	err := r.Apply(context.Background(), "main", exec, edited)
	var conflict *ChecksumConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err=%v, want ChecksumConflictError", err)
	}
	if conflict.Sequence != 1 || conflict.Target != "main" {
		t.Fatalf("conflict=%+v", conflict)
	}
}

func TestApplyAllSortsBySequence(t *testing.T) {
	r := New()
	exec := &fakeExec{}
	units := []domain.MigrationUnit{
		domain.NewMigrationUnit(2, "b", "SELECT 2"),
		domain.NewMigrationUnit(1, "a", "SELECT 1"),
	}
	if err := r.ApplyAll(context.Background(), "main", exec, units); err != nil {
		t.Fatalf("ApplyAll() err=%v", err)
	}
	if exec.statements[0] != "SELECT 1" {
		t.Fatalf("sequence 1 must apply first, got %q", exec.statements[0])
	}
}

func TestApplyAllStopsOnFailure(t *testing.T) {
	r := New()
	exec := &fakeExec{failOn: "SELECT 2"}
	units := []domain.MigrationUnit{
		domain.NewMigrationUnit(1, "a", "SELECT 1"),
		domain.NewMigrationUnit(2, "b", "SELECT 2"),
		domain.NewMigrationUnit(3, "c", "SELECT 3"),
	}
	if err := r.ApplyAll(context.Background(), "main", exec, units); err == nil {
		t.Fatalf("expected failure")
	}
	log := r.AppliedLog("main")
	if len(log) != 1 || log[0].Unit.Sequence != 1 {
		t.Fatalf("earlier unit should remain applied: %+v", log)
	}
}

func TestLedgerQueriesAreIdempotent(t *testing.T) {
	if !strings.Contains(createLedgerQuery, "IF NOT EXISTS") {
		t.Fatalf("ledger create must be idempotent")
	}
	if !strings.Contains(insertLedgerQuery, "ON CONFLICT (sequence) DO NOTHING") {
		t.Fatalf("ledger insert must tolerate replay")
	}
}
