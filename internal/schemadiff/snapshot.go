// Package schemadiff captures a branch's structural signature and compares
// two signatures for drift.
package schemadiff

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/registry"
)

// The migration ledger is registry bookkeeping, not schema under comparison;
// left in, every branch with applied units would drift against its parent.
const columnsQuery = `SELECT table_name, column_name, data_type
	FROM information_schema.columns
	WHERE table_schema = $1 AND table_name <> $2
	ORDER BY table_name, ordinal_position`

// Querier is the read-only SQL boundary. *sql.DB satisfies it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Snapshot reads the catalog metadata for one schema. Read-only, no side
// effects; safe to run in parallel against different branches.
func Snapshot(ctx context.Context, q Querier, schema string) (domain.SchemaSnapshot, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, schema, registry.LedgerTable)
	if err != nil {
		return domain.SchemaSnapshot{}, fmt.Errorf("query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := domain.SchemaSnapshot{
		Schema:  schema,
		TakenAt: time.Now().UTC(),
		Tables:  make(map[string][]domain.ColumnDef),
	}
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return domain.SchemaSnapshot{}, fmt.Errorf("scan column: %w", err)
		}
		snapshot.Tables[table] = append(snapshot.Tables[table], domain.ColumnDef{Name: column, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return domain.SchemaSnapshot{}, fmt.Errorf("read columns: %w", err)
	}
	return snapshot, nil
}
