// Package schema holds the static allow-list of tables and columns that
// analysis queries may reference, together with the per-column metadata
// (bounds, cardinality) that noise calibration needs.
//
// The allow-list is authored as CUE files (see load.go). At runtime it is
// immutable; transformation queries register derived tables through
// WithDerived, which returns a new Schema rather than mutating the base.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnType is the declared type of an allow-listed column.
type ColumnType string

const (
	TypeInt    ColumnType = "int"
	TypeFloat  ColumnType = "float"
	TypeBool   ColumnType = "boolean"
	TypeString ColumnType = "string"
)

// Column describes one allow-listed column.
//
// Lower/Upper are the clamping bounds used for sensitivity calibration of
// SUM and AVG. HasBounds is false for columns where bounds make no sense
// (strings, booleans); SUM/AVG over such columns is rejected.
type Column struct {
	Name        string
	Type        ColumnType
	Lower       float64
	Upper       float64
	HasBounds   bool
	Cardinality int  // distinct values when below the categorical cutoff, else 0
	PrivateID   bool // record identifier; never selectable
}

// Table describes one allow-listed table.
type Table struct {
	Name    string // qualified, e.g. "puf.puf"
	Rows    int64  // approximate row count, used for delta heuristics
	columns map[string]Column
}

// Column looks up a column by name. Matching is case-insensitive because
// the source dialect folds identifier case.
func (t Table) Column(name string) (Column, bool) {
	c, ok := t.columns[strings.ToLower(name)]
	return c, ok
}

// ColumnNames returns the column names sorted for deterministic output.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Schema is the full allow-list.
type Schema struct {
	tables map[string]Table
}

// New builds a Schema from tables. Duplicate table names are an error.
func New(tables []Table) (*Schema, error) {
	s := &Schema{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		key := strings.ToLower(t.Name)
		if _, dup := s.tables[key]; dup {
			return nil, fmt.Errorf("duplicate table %q in schema", t.Name)
		}
		s.tables[key] = t
	}
	return s, nil
}

// NewTable builds a Table from columns. Used by the loader and by dataset
// metadata introspection for derived tables.
func NewTable(name string, rows int64, columns []Column) Table {
	t := Table{Name: name, Rows: rows, columns: make(map[string]Column, len(columns))}
	for _, c := range columns {
		t.columns[strings.ToLower(c.Name)] = c
	}
	return t
}

// Table looks up a table by qualified name, case-insensitively.
func (s *Schema) Table(name string) (Table, bool) {
	t, ok := s.tables[strings.ToLower(name)]
	return t, ok
}

// TableNames returns the allow-listed table names sorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.tables))
	for _, t := range s.tables {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// BaseOf returns the allow-listed table that name derives from, if any.
// A derived name must extend an approved table name with a single
// underscore and a non-empty suffix: "puf.puf_wages" derives from
// "puf.puf". This is the rule that keeps transformation targets inside
// the approved namespace; names under the reserved double-underscore
// suffixes never qualify.
func (s *Schema) BaseOf(name string) (Table, bool) {
	lower := strings.ToLower(name)
	for key, t := range s.tables {
		suffix, ok := strings.CutPrefix(lower, key+"_")
		if ok && suffix != "" && !strings.HasPrefix(suffix, "_") {
			return t, true
		}
	}
	return Table{}, false
}

// WithDerived returns a copy of the schema with a derived table added.
// The receiver is not modified; validated requests against the base
// schema are unaffected.
func (s *Schema) WithDerived(t Table) *Schema {
	next := &Schema{tables: make(map[string]Table, len(s.tables)+1)}
	for k, v := range s.tables {
		next.tables[k] = v
	}
	next.tables[strings.ToLower(t.Name)] = t
	return next
}
