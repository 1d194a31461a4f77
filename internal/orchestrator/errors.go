package orchestrator

import (
	"fmt"

	"github.com/branchops-labs/branchops-go/internal/domain"
)

// DriftConflictError blocks promotion or rebase when the drift report holds
// type conflicts. The report rides along so callers can render the details.
type DriftConflictError struct {
	Base      string
	Candidate string
	Report    domain.DriftReport
}

func (e *DriftConflictError) Error() string {
	return fmt.Sprintf("schema drift between %s and %s: %d type conflict(s)",
		e.Base, e.Candidate, len(e.Report.TypeConflicts))
}
