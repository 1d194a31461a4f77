// runnerd is the CI-facing service: it accepts batches of run specs, fans
// them out across ephemeral branches through the coordinator, and archives
// the aggregate reports to object storage.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/branchops-labs/branchops-go/internal/coordinator"
	"github.com/branchops-labs/branchops-go/internal/orchestrator"
	"github.com/branchops-labs/branchops-go/internal/platform/auth"
	"github.com/branchops-labs/branchops-go/internal/platform/env"
	"github.com/branchops-labs/branchops-go/internal/platform/httpserver"
	"github.com/branchops-labs/branchops-go/internal/platform/objectstore"
	"github.com/branchops-labs/branchops-go/internal/platform/postgres"
	"github.com/branchops-labs/branchops-go/internal/provider"
	"github.com/branchops-labs/branchops-go/internal/registry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("BRANCHOPS_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("BRANCHOPS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	providerCfg, err := provider.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid provider config", "error", err)
		os.Exit(2)
	}
	providerClient, err := provider.NewRESTClient(providerCfg)
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
	orc, err := orchestrator.New(orcCfg, providerClient, registry.New(), orchestrator.NewPGConnector(dbCfg), logger)
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

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBuckets(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	coord.ArchiveSnapshotsWith(func(ctx context.Context, branch string) error {
		snapshot, err := orc.SnapshotBranch(ctx, branch)
		if err != nil {
			return err
		}
		_, err = coordinator.ArchiveSnapshot(ctx, storeClient, storeCfg.BucketSnapshots, branch, snapshot)
		return err
	})

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	authenticator, err := auth.New(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(2)
	}
	if authenticator == nil {
		logger.Warn("api auth disabled")
	}

	orchestrator.StartExpiryWatcher(ctx, orc)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("runnerd"))
	mux.HandleFunc(
		"/readyz",
		httpserver.Readyz(
			"runnerd",
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBuckets(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newRunnerAPI(logger, coord, storeClient, storeCfg)
	apiMux := http.NewServeMux()
	api.register(apiMux)
	mux.Handle("/v1/", auth.Middleware(authenticator, apiMux))

	cfg := httpserver.Config{
		Service:         "runnerd",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "runnerd", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
