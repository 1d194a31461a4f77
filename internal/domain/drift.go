package domain

import "fmt"

// ColumnRef names one (table, column, type) triple in a drift report.
type ColumnRef struct {
	Table  string
	Column string
	Type   string
}

func (c ColumnRef) String() string {
	return c.Table + "." + c.Column
}

// TypeConflict is a column present on both sides with differing declared
// types. Never safe to blind-replay, regardless of which side changed.
type TypeConflict struct {
	Table         string
	Column        string
	BaseType      string
	CandidateType string
}

func (c TypeConflict) String() string {
	return fmt.Sprintf("%s.%s: %s vs %s", c.Table, c.Column, c.BaseType, c.CandidateType)
}

// DriftReport is the result of comparing two schema snapshots.
type DriftReport struct {
	// AddedInBase holds columns present only in the base snapshot; for a
	// parent-vs-branch comparison this means the branch is behind.
	AddedInBase []ColumnRef
	// AddedInCandidate holds columns present only in the candidate snapshot,
	// typically those introduced by the branch's own migrations.
	AddedInCandidate []ColumnRef
	TypeConflicts    []TypeConflict
}

// Empty reports whether the two snapshots were structurally identical.
func (r DriftReport) Empty() bool {
	return len(r.AddedInBase) == 0 && len(r.AddedInCandidate) == 0 && len(r.TypeConflicts) == 0
}

// Blocked reports whether promotion must be refused. Type conflicts always
// block; additions on either side alone do not.
func (r DriftReport) Blocked() bool {
	return len(r.TypeConflicts) > 0
}

// BehindParent reports whether the base (parent) side carries columns the
// candidate has never seen. Promotion proceeds with a warning in that case.
func (r DriftReport) BehindParent() bool {
	return len(r.AddedInBase) > 0
}
