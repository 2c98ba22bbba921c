package schema

import (
	"slices"
	"sort"
)

// Field is a logical attribute of an entity, independent of physical naming.
type Field string

// Entity declares where an entity may live and which physical names each of
// its fields may use. Candidates are tried in order.
type Entity struct {
	Name     string
	Tables   []string
	Pattern  string
	Fields   map[Field][]string
	Required []Field
}

// WithPattern returns a copy of e that falls back to tables matching pattern.
func (e Entity) WithPattern(pattern string) Entity {
	e.Pattern = pattern
	return e
}

// Table is a resolved physical table and its columns in ordinal order.
type Table struct {
	Name    string
	Columns []string
	set     map[string]struct{}
}

func NewTable(name string, columns []string) *Table {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	return &Table{Name: name, Columns: columns, set: set}
}

func (t *Table) Has(column string) bool {
	_, ok := t.set[column]
	return ok
}

// PickColumn returns the first candidate present in columns, or "".
func PickColumn(columns []string, candidates ...string) string {
	for _, c := range candidates {
		for _, col := range columns {
			if col == c {
				return c
			}
		}
	}
	return ""
}

// Mapping binds an entity's logical fields to one resolved table.
type Mapping struct {
	Entity  string
	Table   *Table
	columns map[Field]string
}

func newMapping(e Entity, t *Table) (*Mapping, error) {
	m := &Mapping{Entity: e.Name, Table: t, columns: make(map[Field]string, len(e.Fields))}
	for f, candidates := range e.Fields {
		if col := PickColumn(t.Columns, candidates...); col != "" {
			m.columns[f] = col
		}
	}

	var missing []string
	for _, f := range e.Required {
		if _, ok := m.columns[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &SchemaError{Entity: e.Name, Table: t.Name, Missing: missing}
	}
	return m, nil
}

// Column returns the physical column for f, or "" when the table lacks it.
func (m *Mapping) Column(f Field) string {
	return m.columns[f]
}

func (m *Mapping) Has(f Field) bool {
	_, ok := m.columns[f]
	return ok
}

// Set stores value under f's column when the column exists and value is non-nil.
func (m *Mapping) Set(row Row, f Field, value any) {
	if value == nil {
		return
	}
	if col := m.Column(f); col != "" {
		row[col] = value
	}
}

// SetNull stores value under f's column, keeping explicit nils.
func (m *Mapping) SetNull(row Row, f Field, value any) {
	if col := m.Column(f); col != "" {
		row[col] = value
	}
}

// Logical rekeys a stored row by field name. Columns outside the mapping and
// omitted fields are dropped.
func (m *Mapping) Logical(row Row, omit ...Field) Row {
	out := make(Row, len(m.columns))
	for f, col := range m.columns {
		if v, ok := row[col]; ok && !slices.Contains(omit, f) {
			out[string(f)] = v
		}
	}
	return out
}
