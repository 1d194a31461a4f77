package schemadiff

import (
	"sort"

	"github.com/branchops-labs/branchops-go/internal/domain"
)

// Diff is a set difference over (table, column, type) triples. A column
// present on both sides with a differing declared type is a type conflict,
// distinct from added/removed: type conflicts are never safe to
// blind-replay, additions usually are. Detection is symmetric; severity is
// not.
func Diff(base, candidate domain.SchemaSnapshot) domain.DriftReport {
	var report domain.DriftReport

	for table, columns := range base.Tables {
		for _, col := range columns {
			other, ok := candidate.Column(table, col.Name)
			switch {
			case !ok:
				report.AddedInBase = append(report.AddedInBase,
					domain.ColumnRef{Table: table, Column: col.Name, Type: col.Type})
			case other.Type != col.Type:
				report.TypeConflicts = append(report.TypeConflicts, domain.TypeConflict{
					Table:         table,
					Column:        col.Name,
					BaseType:      col.Type,
					CandidateType: other.Type,
				})
			}
		}
	}

	for table, columns := range candidate.Tables {
		for _, col := range columns {
			if _, ok := base.Column(table, col.Name); !ok {
				report.AddedInCandidate = append(report.AddedInCandidate,
					domain.ColumnRef{Table: table, Column: col.Name, Type: col.Type})
			}
		}
	}

	sortRefs(report.AddedInBase)
	sortRefs(report.AddedInCandidate)
	sort.Slice(report.TypeConflicts, func(i, j int) bool {
		a, b := report.TypeConflicts[i], report.TypeConflicts[j]
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})
	return report
}

func sortRefs(refs []domain.ColumnRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Table != refs[j].Table {
			return refs[i].Table < refs[j].Table
		}
		return refs[i].Column < refs[j].Column
	})
}
