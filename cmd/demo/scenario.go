package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/branchops-labs/branchops-go/internal/coordinator"
	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/orchestrator"
)

// The seed schema mirrors a small e-commerce system. Every statement is
// idempotent so the demo can rerun against the same project.
var seedStatements = []string{
	`CREATE TABLE IF NOT EXISTS customers (
		id         SERIAL PRIMARY KEY,
		name       VARCHAR(100) NOT NULL,
		email      VARCHAR(255) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id    SERIAL PRIMARY KEY,
		name  VARCHAR(200) NOT NULL,
		price NUMERIC(10,2) NOT NULL,
		stock INT DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          SERIAL PRIMARY KEY,
		customer_id INT REFERENCES customers(id),
		total       NUMERIC(10,2) NOT NULL,
		status      VARCHAR(20) DEFAULT 'pending',
		created_at  TIMESTAMPTZ DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id         SERIAL PRIMARY KEY,
		order_id   INT REFERENCES orders(id),
		product_id INT REFERENCES products(id),
		quantity   INT NOT NULL,
		unit_price NUMERIC(10,2) NOT NULL
	)`,
	`INSERT INTO customers (name, email)
		VALUES ('Ada Fern', 'ada@example.com'), ('Luis Moreno', 'luis@example.com')
		ON CONFLICT (email) DO NOTHING`,
	`INSERT INTO products (name, price, stock)
		SELECT 'Walnut Desk', 499.00, 12
		WHERE NOT EXISTS (SELECT 1 FROM products WHERE name = 'Walnut Desk')`,
}

type scenario struct {
	logger   *slog.Logger
	orc      *orchestrator.Orchestrator
	coord    *coordinator.Coordinator
	runTTL   time.Duration
	specFile string
}

func (s *scenario) seedParent(ctx context.Context) error {
	db, err := s.orc.Connect(ctx, s.orc.Parent())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	for _, stmt := range seedStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	s.logger.Info("parent seeded", "branch", s.orc.Parent())
	return nil
}

func (s *scenario) loyaltyTierUnits() []domain.MigrationUnit {
	return []domain.MigrationUnit{
		domain.NewMigrationUnit(101, "add-loyalty-tier",
			`ALTER TABLE customers ADD COLUMN IF NOT EXISTS loyalty_tier VARCHAR(20) DEFAULT 'bronze'`),
	}
}

// runPullRequests mimics three concurrent CI pull requests, one branch each.
// A spec file overrides the built-in scenarios.
func (s *scenario) runPullRequests(ctx context.Context) error {
	if s.specFile != "" {
		specs, err := coordinator.LoadSpecs(s.specFile)
		if err != nil {
			return err
		}
		return s.runBatch(ctx, specs)
	}

	specs := []coordinator.Spec{
		{
			Name:  "pr-loyalty-tier",
			TTL:   s.runTTL,
			Units: s.loyaltyTierUnits(),
			Check: coordinator.CountPredicate(
				`SELECT COUNT(*) FROM information_schema.columns
				 WHERE table_name = 'customers' AND column_name = 'loyalty_tier'`),
		},
		{
			Name: "pr-order-priority",
			TTL:  s.runTTL,
			Units: []domain.MigrationUnit{
				domain.NewMigrationUnit(102, "add-order-priority",
					`ALTER TABLE orders ADD COLUMN IF NOT EXISTS priority VARCHAR(10) DEFAULT 'normal'`),
			},
			Check: coordinator.CountPredicate(
				`SELECT COUNT(*) FROM information_schema.columns
				 WHERE table_name = 'orders' AND column_name = 'priority'`),
		},
		{
			Name: "pr-product-rating",
			TTL:  s.runTTL,
			Units: []domain.MigrationUnit{
				domain.NewMigrationUnit(103, "add-avg-rating",
					`ALTER TABLE products ADD COLUMN IF NOT EXISTS avg_rating NUMERIC(3,2)`),
			},
		},
	}

	return s.runBatch(ctx, specs)
}

func (s *scenario) runBatch(ctx context.Context, specs []coordinator.Spec) error {
	report := s.coord.RunAll(ctx, specs)
	for _, run := range report.Runs {
		s.logger.Info("run finished",
			"spec", run.SpecName, "outcome", run.Outcome, "detail", run.Detail)
	}
	if report.Errored > 0 {
		return fmt.Errorf("batch %s: %d run(s) errored", report.BatchID, report.Errored)
	}
	return nil
}

// promoteLoyaltyTier validates the change on a fresh branch, then replays it
// onto the parent through the drift gate.
func (s *scenario) promoteLoyaltyTier(ctx context.Context) error {
	units := s.loyaltyTierUnits()
	name := fmt.Sprintf("promote-loyalty-%d", time.Now().Unix())

	if _, err := s.orc.CreateValidationBranch(ctx, name, s.runTTL); err != nil {
		return err
	}
	defer func() {
		if err := s.orc.Teardown(ctx, name); err != nil {
			s.logger.Warn("teardown failed", "branch", name, "error", err)
		}
	}()

	if err := s.orc.ApplyUnits(ctx, name, units); err != nil {
		return err
	}
	report, err := s.orc.Promote(ctx, name, units)
	if err != nil {
		return err
	}
	s.logger.Info("promoted to parent",
		"branch", name,
		"added_in_candidate", len(report.AddedInCandidate),
		"behind_parent", report.BehindParent())
	return nil
}

// recoverFromThePast derives a branch from the parent as it stood thirty
// minutes ago, without disturbing the parent.
func (s *scenario) recoverFromThePast(ctx context.Context) error {
	at := time.Now().Add(-30 * time.Minute).UTC()
	name := fmt.Sprintf("recover-%d", time.Now().Unix())

	branch, err := s.orc.CreateRecoveryBranch(ctx, name, at, s.runTTL)
	if err != nil {
		return err
	}
	s.logger.Info("recovery branch ready", "branch", branch.Name, "source_time", at)
	return s.orc.Teardown(ctx, name)
}
