package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Executor runs statements against the relational store. Implementations
// translate store errors into ConstraintError.
type Executor interface {
	Query(ctx context.Context, sql string, args ...any) ([]Row, error)
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	InTx(ctx context.Context, fn func(Executor) error) error
}

// Writer inserts, updates and deletes rows of resolved tables, touching only
// columns that exist.
type Writer struct {
	exec     Executor
	resolver *Resolver
	logger   *zap.Logger
}

func NewWriter(exec Executor, resolver *Resolver, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{exec: exec, resolver: resolver, logger: logger}
}

// WithExecutor returns a writer bound to exec, typically a transaction.
func (w *Writer) WithExecutor(exec Executor) *Writer {
	return &Writer{exec: exec, resolver: w.resolver, logger: w.logger}
}

func (w *Writer) observe(err error) error {
	if err != nil && errors.Is(err, ErrSchema) {
		w.resolver.Invalidate()
	}
	return err
}

// Insert writes row and returns the stored row. Required columns are checked
// before anything reaches the store.
func (w *Writer) Insert(ctx context.Context, m *Mapping, row Row) (Row, error) {
	required, err := w.resolver.RequiredColumns(ctx, m.Table.Name)
	if err != nil {
		return nil, err
	}
	if missing := MissingRequired(row, required); len(missing) > 0 {
		return nil, &MissingFieldsError{Columns: missing}
	}

	stmt := BuildInsert(m.Table.Name, row, m.Table.Columns)
	if stmt == nil {
		return nil, ErrNoWritableFields
	}

	rows, err := w.exec.Query(ctx, stmt.Returning().SQL, stmt.Args...)
	if err != nil {
		w.logger.Debug("Insert failed", zap.String("table", m.Table.Name), zap.Error(err))
		return nil, w.observe(err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", m.Table.Name)
	}
	return rows[0], nil
}

// Update applies row to the record whose id field equals id.
func (w *Writer) Update(ctx context.Context, m *Mapping, id any, row Row) (Row, error) {
	idCol := m.Column(FieldID)
	if idCol == "" {
		return nil, &SchemaError{Entity: m.Entity, Table: m.Table.Name, Missing: []string{string(FieldID)}}
	}

	stmt := BuildUpdate(m.Table.Name, row, m.Table.Columns, idCol, id)
	if stmt == nil {
		return nil, ErrNoWritableFields
	}

	rows, err := w.exec.Query(ctx, stmt.Returning().SQL, stmt.Args...)
	if err != nil {
		return nil, w.observe(err)
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return rows[0], nil
}

func (w *Writer) Delete(ctx context.Context, m *Mapping, id any) error {
	idCol := m.Column(FieldID)
	if idCol == "" {
		return &SchemaError{Entity: m.Entity, Table: m.Table.Name, Missing: []string{string(FieldID)}}
	}

	n, err := w.exec.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = $1", m.QuotedTable(), quote(idCol)), id)
	if err != nil {
		return w.observe(err)
	}
	if n == 0 {
		return ErrRowNotFound
	}
	return nil
}

// DeleteWhere removes every row whose field f equals value and reports how
// many went. Unlike Delete, no match is not an error.
func (w *Writer) DeleteWhere(ctx context.Context, m *Mapping, f Field, value any) (int64, error) {
	col := m.Quoted(f)
	if col == "" {
		return 0, &SchemaError{Entity: m.Entity, Table: m.Table.Name, Missing: []string{string(f)}}
	}
	n, err := w.exec.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1", m.QuotedTable(), col), value)
	if err != nil {
		return 0, w.observe(err)
	}
	return n, nil
}

// InTx runs fn with a writer bound to one transaction.
func (w *Writer) InTx(ctx context.Context, fn func(*Writer) error) error {
	return w.exec.InTx(ctx, func(tx Executor) error {
		return fn(w.WithExecutor(tx))
	})
}

// DeleteAll empties the dependents and then the target table in one
// transaction and reports how many target rows went.
func (w *Writer) DeleteAll(ctx context.Context, target *Mapping, dependents ...*Mapping) (int64, error) {
	var deleted int64
	err := w.exec.InTx(ctx, func(tx Executor) error {
		for _, d := range dependents {
			if _, err := tx.Exec(ctx, "DELETE FROM "+d.QuotedTable()); err != nil {
				return err
			}
		}
		n, err := tx.Exec(ctx, "DELETE FROM "+target.QuotedTable())
		if err != nil {
			return err
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, w.observe(err)
	}
	w.logger.Info("Table cleared", zap.String("table", target.Table.Name), zap.Int64("rows", deleted))
	return deleted, nil
}

// ListOptions narrows a List query. Conditions on fields the table lacks are
// skipped.
type ListOptions struct {
	Fields       []Field
	Search       string
	SearchFields []Field
	Filters      map[Field]any
	FoldEquals   map[Field]string
	OrderBy      Field
	Desc         bool
	Limit        int
}

// Reader queries resolved tables, projecting columns under logical names.
type Reader struct {
	exec Executor
}

func NewReader(exec Executor) *Reader {
	return &Reader{exec: exec}
}

func sortedFields[V any](m map[Field]V) []Field {
	keys := make([]Field, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *Reader) List(ctx context.Context, m *Mapping, opts ListOptions) ([]Row, error) {
	projection := "*"
	if len(opts.Fields) > 0 {
		projection = m.SelectAs(opts.Fields...)
	}

	var (
		where []string
		args  []any
	)
	for _, f := range sortedFields(opts.Filters) {
		if col := m.Quoted(f); col != "" {
			args = append(args, opts.Filters[f])
			where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
		}
	}
	for _, f := range sortedFields(opts.FoldEquals) {
		if col := m.Quoted(f); col != "" {
			args = append(args, strings.ToLower(opts.FoldEquals[f]))
			where = append(where, fmt.Sprintf("LOWER(%s) = $%d", col, len(args)))
		}
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		var ors []string
		for _, f := range opts.SearchFields {
			if col := m.Quoted(f); col != "" {
				ors = append(ors, fmt.Sprintf("CAST(%s AS TEXT) ILIKE $%d", col, len(args)+1))
			}
		}
		if len(ors) > 0 {
			args = append(args, "%"+search+"%")
			where = append(where, "("+strings.Join(ors, " OR ")+")")
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", projection, m.QuotedTable())
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	order := opts.OrderBy
	if order == "" {
		order = FieldID
	}
	if col := m.Quoted(order); col != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(col)
		if opts.Desc {
			sb.WriteString(" DESC")
		}
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", opts.Limit)
	}

	return r.exec.Query(ctx, sb.String(), args...)
}

// FindOne returns the first matching row or ErrRowNotFound.
func (r *Reader) FindOne(ctx context.Context, m *Mapping, opts ListOptions) (Row, error) {
	opts.Limit = 1
	rows, err := r.List(ctx, m, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrRowNotFound
	}
	return rows[0], nil
}

// Get loads the row whose id field equals id.
func (r *Reader) Get(ctx context.Context, m *Mapping, id any, fields ...Field) (Row, error) {
	return r.FindOne(ctx, m, ListOptions{Fields: fields, Filters: map[Field]any{FieldID: id}})
}
