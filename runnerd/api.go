package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/branchops-labs/branchops-go/internal/coordinator"
	"github.com/branchops-labs/branchops-go/internal/domain"
	"github.com/branchops-labs/branchops-go/internal/platform/auth"
	"github.com/branchops-labs/branchops-go/internal/platform/httpserver"
	"github.com/branchops-labs/branchops-go/internal/platform/objectstore"
)

type batchStatus string

const (
	batchStatusRunning   batchStatus = "running"
	batchStatusCompleted batchStatus = "completed"
)

type batchRecord struct {
	ID          string
	Status      batchStatus
	SubmittedBy string
	SubmittedAt time.Time
	Report      domain.RunReport
	ArchiveKey  string
}

type runnerAPI struct {
	logger   *slog.Logger
	coord    *coordinator.Coordinator
	store    *minio.Client
	storeCfg objectstore.Config

	mu      sync.Mutex
	batches map[string]*batchRecord
}

func newRunnerAPI(logger *slog.Logger, coord *coordinator.Coordinator, store *minio.Client, storeCfg objectstore.Config) *runnerAPI {
	return &runnerAPI{
		logger:   logger,
		coord:    coord,
		store:    store,
		storeCfg: storeCfg,
		batches:  make(map[string]*batchRecord),
	}
}

func (api *runnerAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/run-batches", api.handleCreateBatch)
	mux.HandleFunc("GET /v1/run-batches/{batch_id}", api.handleGetBatch)
}

type runSpecWire struct {
	Name       string         `json:"name"`
	TTLSeconds int64          `json:"ttl_seconds"`
	Migrations []specUnitWire `json:"migrations"`
	TestQuery  string         `json:"test_query,omitempty"`
}

type specUnitWire struct {
	Sequence int    `json:"sequence"`
	Name     string `json:"name"`
	SQL      string `json:"sql"`
}

type createBatchRequest struct {
	Runs []runSpecWire `json:"runs"`
}

type runWire struct {
	ID         string     `json:"id"`
	SpecName   string     `json:"spec_name"`
	Branch     string     `json:"branch"`
	Outcome    string     `json:"outcome"`
	Detail     string     `json:"detail,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	TornDownAt *time.Time `json:"torn_down_at,omitempty"`
}

type batchWire struct {
	BatchID     string    `json:"batch_id"`
	Status      string    `json:"status"`
	SubmittedBy string    `json:"submitted_by,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Errored     int       `json:"errored"`
	Runs        []runWire `json:"runs,omitempty"`
	ArchiveKey  string    `json:"archive_key,omitempty"`
}

func (api *runnerAPI) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if len(req.Runs) == 0 {
		writeError(w, http.StatusBadRequest, "no_runs")
		return
	}

	specs := make([]coordinator.Spec, 0, len(req.Runs))
	for _, wire := range req.Runs {
		spec := coordinator.Spec{
			Name: strings.TrimSpace(wire.Name),
			TTL:  time.Duration(wire.TTLSeconds) * time.Second,
		}
		for _, unit := range wire.Migrations {
			spec.Units = append(spec.Units, domain.NewMigrationUnit(unit.Sequence, unit.Name, unit.SQL))
		}
		if wire.TestQuery != "" {
			spec.Check = coordinator.CountPredicate(wire.TestQuery)
		}
		if err := spec.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_spec")
			return
		}
		specs = append(specs, spec)
	}

	record := &batchRecord{
		ID:          uuid.NewString(),
		Status:      batchStatusRunning,
		SubmittedAt: time.Now().UTC(),
	}
	if identity, ok := identityFrom(r.Context()); ok {
		record.SubmittedBy = identity
	}
	api.mu.Lock()
	api.batches[record.ID] = record
	api.mu.Unlock()

	// The batch outlives the request; CI polls GET for the outcome.
	go api.runBatch(context.WithoutCancel(r.Context()), record.ID, specs)

	httpserver.WriteJSON(w, http.StatusAccepted, batchWire{
		BatchID:     record.ID,
		Status:      string(record.Status),
		SubmittedBy: record.SubmittedBy,
		SubmittedAt: record.SubmittedAt,
	})
}

func (api *runnerAPI) runBatch(ctx context.Context, id string, specs []coordinator.Spec) {
	report := api.coord.RunAll(ctx, specs)
	report.BatchID = id

	var archiveKey string
	if api.store != nil {
		archiveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		key, err := coordinator.ArchiveReport(archiveCtx, api.store, api.storeCfg.BucketReports, report)
		cancel()
		if err != nil {
			api.logger.Error("report archive failed", "batch", id, "error", err)
		} else {
			archiveKey = key
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	record, ok := api.batches[id]
	if !ok {
		return
	}
	record.Status = batchStatusCompleted
	record.Report = report
	record.ArchiveKey = archiveKey
}

func (api *runnerAPI) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("batch_id")

	api.mu.Lock()
	record, ok := api.batches[id]
	var snapshot batchRecord
	if ok {
		snapshot = *record
	}
	api.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "batch_not_found")
		return
	}

	wire := batchWire{
		BatchID:     snapshot.ID,
		Status:      string(snapshot.Status),
		SubmittedBy: snapshot.SubmittedBy,
		SubmittedAt: snapshot.SubmittedAt,
		Passed:      snapshot.Report.Passed,
		Failed:      snapshot.Report.Failed,
		Errored:     snapshot.Report.Errored,
		ArchiveKey:  snapshot.ArchiveKey,
	}
	for _, run := range snapshot.Report.Runs {
		wire.Runs = append(wire.Runs, runWire{
			ID:         run.ID,
			SpecName:   run.SpecName,
			Branch:     run.Branch,
			Outcome:    string(run.Outcome),
			Detail:     run.Detail,
			CreatedAt:  run.CreatedAt,
			TornDownAt: run.TornDownAt,
		})
	}
	httpserver.WriteJSON(w, http.StatusOK, wire)
}

func writeError(w http.ResponseWriter, status int, code string) {
	httpserver.WriteJSON(w, status, map[string]any{"error": code})
}

func identityFrom(ctx context.Context) (string, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	if identity.Email != "" {
		return identity.Email, true
	}
	return identity.Subject, true
}
