// demo drives the full branch lifecycle against a live provider: seed an
// e-commerce schema on the parent branch, fan three CI-style runs out over
// ephemeral branches, promote the passing change, and show a point-in-time
// recovery branch.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/branchops-labs/branchops-go/internal/coordinator"
	"github.com/branchops-labs/branchops-go/internal/orchestrator"
	"github.com/branchops-labs/branchops-go/internal/platform/env"
	"github.com/branchops-labs/branchops-go/internal/platform/postgres"
	"github.com/branchops-labs/branchops-go/internal/provider"
	"github.com/branchops-labs/branchops-go/internal/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providerCfg, err := provider.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid provider config", "error", err)
		os.Exit(2)
	}
	client, err := provider.NewRESTClient(providerCfg)
	if err != nil {
		logger.Error("provider client init failed", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}

	orcCfg, err := orchestrator.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid orchestrator config", "error", err)
		os.Exit(2)
	}
	reg := registry.New()
	orc, err := orchestrator.New(orcCfg, client, reg, orchestrator.NewPGConnector(dbCfg), logger)
	if err != nil {
		logger.Error("orchestrator init failed", "error", err)
		os.Exit(2)
	}

	coordCfg, err := coordinator.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid coordinator config", "error", err)
		os.Exit(2)
	}
	coord, err := coordinator.New(coordCfg, orc, logger)
	if err != nil {
		logger.Error("coordinator init failed", "error", err)
		os.Exit(2)
	}

	runTTL, err := env.Seconds("BRANCHOPS_DEMO_RUN_TTL_SECONDS", time.Hour)
	if err != nil {
		logger.Error("invalid demo ttl", "error", err)
		os.Exit(2)
	}
	withRecovery, err := env.Bool("BRANCHOPS_DEMO_RECOVERY", true)
	if err != nil {
		logger.Error("invalid demo recovery flag", "error", err)
		os.Exit(2)
	}

	scenario := &scenario{
		logger:   logger,
		orc:      orc,
		coord:    coord,
		runTTL:   runTTL,
		specFile: env.String("BRANCHOPS_DEMO_SPEC_FILE", ""),
	}

	if err := scenario.seedParent(ctx); err != nil {
		logger.Error("seed failed", "error", err)
		os.Exit(1)
	}
	if err := scenario.runPullRequests(ctx); err != nil {
		logger.Error("run batch failed", "error", err)
		os.Exit(1)
	}
	if err := scenario.promoteLoyaltyTier(ctx); err != nil {
		logger.Error("promotion failed", "error", err)
		os.Exit(1)
	}
	if withRecovery {
		if err := scenario.recoverFromThePast(ctx); err != nil {
			logger.Error("recovery branch failed", "error", err)
			os.Exit(1)
		}
	}
	logger.Info("demo complete")
}
