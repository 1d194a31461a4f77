package schemadiff

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/registry"
)

func snapshotOf(tables map[string][]domain.ColumnDef) domain.SchemaSnapshot {
	return domain.SchemaSnapshot{Schema: "ecommerce", Tables: tables}
}

func TestDiffIdenticalSnapshotsIsEmpty(t *testing.T) {
	s := snapshotOf(map[string][]domain.ColumnDef{
		"customers": {{Name: "id", Type: "integer"}, {Name: "name", Type: "character varying"}, {Name: "email", Type: "character varying"}},
	})
	if report := Diff(s, s); !report.Empty() {
		t.Fatalf("diff of identical snapshots = %+v", report)
	}
}

func TestDiffBranchAddition(t *testing.T) {
	parent := snapshotOf(map[string][]domain.ColumnDef{
		"customers": {{Name: "id", Type: "integer"}, {Name: "name", Type: "character varying"}, {Name: "email", Type: "character varying"}},
	})
	child := snapshotOf(map[string][]domain.ColumnDef{
		"customers": {{Name: "id", Type: "integer"}, {Name: "name", Type: "character varying"}, {Name: "email", Type: "character varying"}, {Name: "loyalty_tier", Type: "character varying"}},
	})

	report := Diff(parent, child)
	if len(report.AddedInCandidate) != 1 || report.AddedInCandidate[0].Column != "loyalty_tier" {
		t.Fatalf("added in candidate = %+v", report.AddedInCandidate)
	}
	if len(report.AddedInBase) != 0 || report.Blocked() {
		t.Fatalf("pure addition misclassified: %+v", report)
	}
}

func TestDiffConcurrentDriftBothSides(t *testing.T) {
	parent := snapshotOf(map[string][]domain.ColumnDef{
		"customers": {{Name: "id", Type: "integer"}, {Name: "email_verified", Type: "boolean"}},
		"orders":    {{Name: "id", Type: "integer"}},
	})
	branch := snapshotOf(map[string][]domain.ColumnDef{
		"customers": {{Name: "id", Type: "integer"}},
		"orders":    {{Name: "id", Type: "integer"}, {Name: "priority", Type: "character varying"}},
	})

	report := Diff(parent, branch)
	if len(report.AddedInBase) != 1 || report.AddedInBase[0].String() != "customers.email_verified" {
		t.Fatalf("added in base = %+v", report.AddedInBase)
	}
	if len(report.AddedInCandidate) != 1 || report.AddedInCandidate[0].String() != "orders.priority" {
		t.Fatalf("added in candidate = %+v", report.AddedInCandidate)
	}
	if report.Blocked() {
		t.Fatalf("additions on both sides must not block")
	}
	if !report.BehindParent() {
		t.Fatalf("branch behind parent should warn")
	}
}

func TestDiffTypeConflictRegardlessOfOrder(t *testing.T) {
	a := snapshotOf(map[string][]domain.ColumnDef{
		"orders": {{Name: "total", Type: "numeric"}},
	})
	b := snapshotOf(map[string][]domain.ColumnDef{
		"orders": {{Name: "total", Type: "text"}},
	})

	for _, pair := range [][2]domain.SchemaSnapshot{{a, b}, {b, a}} {
		report := Diff(pair[0], pair[1])
		if len(report.TypeConflicts) != 1 {
			t.Fatalf("type conflicts = %+v", report.TypeConflicts)
		}
		if !report.Blocked() {
			t.Fatalf("type conflict must block in either direction")
		}
		if len(report.AddedInBase) != 0 || len(report.AddedInCandidate) != 0 {
			t.Fatalf("type conflict must not double-report as addition: %+v", report)
		}
	}
}

func TestDiffTableOnlyInOneSide(t *testing.T) {
	parent := snapshotOf(map[string][]domain.ColumnDef{})
	branch := snapshotOf(map[string][]domain.ColumnDef{
		"audit_log": {{Name: "id", Type: "integer"}, {Name: "payload", Type: "jsonb"}},
	})

	report := Diff(parent, branch)
	if len(report.AddedInCandidate) != 2 {
		t.Fatalf("new table should report each column: %+v", report.AddedInCandidate)
	}
}

func TestDiffOutputIsSorted(t *testing.T) {
	parent := snapshotOf(map[string][]domain.ColumnDef{})
	branch := snapshotOf(map[string][]domain.ColumnDef{
		"orders":    {{Name: "priority", Type: "text"}},
		"customers": {{Name: "tier", Type: "text"}, {Name: "badge", Type: "text"}},
	})
	report := Diff(parent, branch)
	got := make([]string, 0, len(report.AddedInCandidate))
	for _, ref := range report.AddedInCandidate {
		got = append(got, ref.String())
	}
	want := []string{"customers.badge", "customers.tier", "orders.priority"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestColumnsQueryShape(t *testing.T) {
	if !strings.Contains(columnsQuery, "information_schema.columns") {
		t.Fatalf("snapshot must read information_schema")
	}
	if !strings.Contains(columnsQuery, "table_schema = $1") {
		t.Fatalf("snapshot must filter by schema parameter")
	}
	if !strings.Contains(columnsQuery, "table_name <> $2") {
		t.Fatalf("snapshot must exclude the migration ledger")
	}
	if !strings.Contains(columnsQuery, "ordinal_position") {
		t.Fatalf("snapshot must preserve column order")
	}
}

type recordingQuerier struct {
	query string
	args  []any
}

func (r *recordingQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r.query = query
	r.args = args
	return nil, errors.New("recorded only")
}

// A branch that has applied units carries the ledger table; comparing it
// against a clean parent must not report the ledger's columns as drift.
func TestSnapshotExcludesLedgerTable(t *testing.T) {
	q := &recordingQuerier{}
	if _, err := Snapshot(context.Background(), q, "public"); err == nil {
		t.Fatalf("querier error must propagate")
	}
	if q.query != columnsQuery {
		t.Fatalf("unexpected query: %s", q.query)
	}
	if len(q.args) != 2 {
		t.Fatalf("query args = %v, want schema and ledger exclusion", q.args)
	}
	if q.args[0] != "public" || q.args[1] != registry.LedgerTable {
		t.Fatalf("query args = %v", q.args)
	}
}
