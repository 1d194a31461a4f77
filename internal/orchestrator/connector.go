package orchestrator

import (
	"context"

	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/platform/postgres"
)

// PGConnector dials branch endpoints through database/sql with the pgx
// driver.
type PGConnector struct {
	cfg postgres.Config
}

func NewPGConnector(cfg postgres.Config) PGConnector {
	return PGConnector{cfg: cfg}
}

func (c PGConnector) Connect(ctx context.Context, cred domain.Credential) (DB, error) {
	return postgres.Open(ctx, c.cfg, cred)
}
