package domain

import (
	"sort"
	"time"
)

// ColumnDef is one observed column of a table.
type ColumnDef struct {
	Name string
	Type string
}

// SchemaSnapshot is the structural signature of one branch at a moment:
// table name to ordered column definitions. Used for comparison only,
// never persisted long-term.
type SchemaSnapshot struct {
	Schema  string
	TakenAt time.Time
	Tables  map[string][]ColumnDef
}

// Column looks up a column definition by table and column name.
func (s SchemaSnapshot) Column(table, name string) (ColumnDef, bool) {
	for _, col := range s.Tables[table] {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnDef{}, false
}

// TableNames returns the snapshot's table names in sorted order.
func (s SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
