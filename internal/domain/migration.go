package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// MigrationUnit is an identified, ordered, idempotent schema or data change.
// Idempotence is the author's contract (IF NOT EXISTS style text); the
// orchestrator only verifies identity via the checksum.
type MigrationUnit struct {
	Sequence int
	Name     string
	SQL      string
	Checksum string // hex sha256 of the SQL text
}

// NewMigrationUnit builds a unit with its checksum computed from the SQL text.
func NewMigrationUnit(sequence int, name, sqlText string) MigrationUnit {
	return MigrationUnit{
		Sequence: sequence,
		Name:     name,
		SQL:      sqlText,
		Checksum: ChecksumSQL(sqlText),
	}
}

// ChecksumSQL returns the hex sha256 of the given SQL text.
func ChecksumSQL(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}

func (u MigrationUnit) Validate() error {
	if u.Sequence <= 0 {
		return errors.New("sequence must be >= 1")
	}
	if strings.TrimSpace(u.Name) == "" {
		return errors.New("migration name is required")
	}
	if strings.TrimSpace(u.SQL) == "" {
		return errors.New("migration sql is required")
	}
	if strings.TrimSpace(u.Checksum) == "" {
		return errors.New("migration checksum is required")
	}
	if u.Checksum != ChecksumSQL(u.SQL) {
		return errors.New("migration checksum does not match sql text")
	}
	return nil
}
