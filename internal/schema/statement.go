package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Statement is a parameterized SQL text with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Returning makes the statement yield the affected rows.
func (s *Statement) Returning() *Statement {
	s.SQL += " RETURNING *"
	return s
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// writable returns the sorted keys of row that are in allowed.
func writable(row Row, allowed []string) []string {
	permitted := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		permitted[a] = struct{}{}
	}
	cols := make([]string, 0, len(row))
	for k := range row {
		if _, ok := permitted[k]; ok {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return cols
}

// BuildInsert writes only the keys of row that are allowed columns. It
// returns nil when nothing remains to write.
func BuildInsert(table string, row Row, allowed []string) *Statement {
	cols := writable(row, allowed)
	if len(cols) == 0 {
		return nil
	}

	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	return &Statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(table), strings.Join(quoted, ", "), strings.Join(params, ", ")),
		Args: args,
	}
}

// BuildUpdate sets the allowed keys of row on the row whose idColumn equals
// idValue. The id column itself is never rewritten.
func BuildUpdate(table string, row Row, allowed []string, idColumn string, idValue any) *Statement {
	cols := writable(row, allowed)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		if c == idColumn {
			continue
		}
		args = append(args, row[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", quote(c), len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, idValue)

	return &Statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
			quote(table), strings.Join(sets, ", "), quote(idColumn), len(args)),
		Args: args,
	}
}

// MissingRequired lists the required columns that row leaves absent, nil or
// empty, in the order given.
func MissingRequired(row Row, required []string) []string {
	var missing []string
	for _, col := range required {
		v, ok := row[col]
		if !ok || v == nil {
			missing = append(missing, col)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, col)
		}
	}
	return missing
}

// QuotedTable is the mapping's table name ready for SQL text.
func (m *Mapping) QuotedTable() string {
	return quote(m.Table.Name)
}

// Quoted is f's column ready for SQL text, or "" when absent.
func (m *Mapping) Quoted(f Field) string {
	col := m.Column(f)
	if col == "" {
		return ""
	}
	return quote(col)
}

// SelectAs projects fields under their logical names. Fields the table lacks
// come back as NULL so callers can read every alias unconditionally.
func (m *Mapping) SelectAs(fields ...Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		if col := m.Column(f); col != "" {
			parts[i] = fmt.Sprintf("%s AS %s", quote(col), quote(string(f)))
		} else {
			parts[i] = "NULL AS " + quote(string(f))
		}
	}
	return strings.Join(parts, ", ")
}

// Columns returns every mapped physical column for the given fields.
func (m *Mapping) Columns(fields ...Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if col := m.Column(f); col != "" {
			out = append(out, col)
		}
	}
	return out
}
