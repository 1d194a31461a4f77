package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/branchops-labs/branchops-go/internal/domain"
)

// LedgerTable is the registry's bookkeeping table, present in every target
// database that has had units applied. Schema comparison must ignore it.
const LedgerTable = "branchops_applied_migrations"

// The ledger lives in the target database itself, so a branch carries its
// own application history through copy-on-write derivation. Both statements
// are idempotent by construction.
const (
	createLedgerQuery = `CREATE TABLE IF NOT EXISTS ` + LedgerTable + ` (
		sequence   BIGINT PRIMARY KEY,
		name       TEXT NOT NULL,
		checksum   TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL
	)`

	insertLedgerQuery = `INSERT INTO ` + LedgerTable + ` (sequence, name, checksum, applied_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sequence) DO NOTHING`
)

func recordLedger(ctx context.Context, exec Executor, unit domain.MigrationUnit, appliedAt time.Time) error {
	if _, err := exec.ExecContext(ctx, createLedgerQuery); err != nil {
		return fmt.Errorf("ensure ledger: %w", err)
	}
	if _, err := exec.ExecContext(ctx, insertLedgerQuery, unit.Sequence, unit.Name, unit.Checksum, appliedAt); err != nil {
		return fmt.Errorf("record ledger seq %d: %w", unit.Sequence, err)
	}
	return nil
}
