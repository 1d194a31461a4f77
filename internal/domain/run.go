package domain

import (
	"errors"
	"strings"
	"time"
)

// RunOutcome classifies one ephemeral run. A failing test predicate is a
// normal outcome (failed); an infrastructure problem while provisioning,
// connecting, or migrating is errored. The two are always distinguishable
// in the aggregate report.
type RunOutcome string

const (
	RunOutcomePending RunOutcome = "pending"
	RunOutcomePassed  RunOutcome = "passed"
	RunOutcomeFailed  RunOutcome = "failed"
	RunOutcomeErrored RunOutcome = "errored"
)

func (o RunOutcome) Terminal() bool {
	return o == RunOutcomePassed || o == RunOutcomeFailed || o == RunOutcomeErrored
}

// EphemeralRun is one CI-style lifecycle instance: branch, assigned
// migration units, and the recorded outcome.
type EphemeralRun struct {
	ID         string
	SpecName   string
	Branch     string
	Units      []MigrationUnit
	Outcome    RunOutcome
	Detail     string // failure message or infra error text
	CreatedAt  time.Time
	TornDownAt *time.Time
}

func (r EphemeralRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.SpecName) == "" {
		return errors.New("spec name is required")
	}
	if r.Outcome == "" {
		return errors.New("outcome is required")
	}
	return nil
}

// RunReport aggregates one batch of ephemeral runs. Runs appear in input
// spec order, independent of completion order, and the report is produced
// even when individual runs error.
type RunReport struct {
	BatchID    string
	Runs       []EphemeralRun
	Passed     int
	Failed     int
	Errored    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Tally recomputes the summary counters from the run outcomes.
func (r *RunReport) Tally() {
	r.Passed, r.Failed, r.Errored = 0, 0, 0
	for _, run := range r.Runs {
		switch run.Outcome {
		case RunOutcomePassed:
			r.Passed++
		case RunOutcomeFailed:
			r.Failed++
		case RunOutcomeErrored:
			r.Errored++
		}
	}
}
