// Package postgres runs the schema layer and the service-owned tables against
// PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"civic-shield/internal/schema"
)

// conn is satisfied by both *pgxpool.Pool and pgx.Tx.
type conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Executor implements schema.Executor over a pool or a transaction.
type Executor struct {
	conn conn
}

func NewExecutor(pool *pgxpool.Pool) *Executor {
	return &Executor{conn: pool}
}

func (e *Executor) Query(ctx context.Context, sql string, args ...any) ([]schema.Row, error) {
	rows, err := e.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]schema.Row, len(maps))
	for i, m := range maps {
		out[i] = schema.Row(m)
	}
	return out, nil
}

func (e *Executor) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := e.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// InTx commits when fn returns nil and rolls back otherwise. Nested calls use
// savepoints.
func (e *Executor) InTx(ctx context.Context, fn func(schema.Executor) error) error {
	err := pgx.BeginFunc(ctx, e.conn, func(tx pgx.Tx) error {
		return fn(&Executor{conn: tx})
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify turns PostgreSQL errors into schema.ConstraintError. Errors that
// are already classified pass through.
func classify(err error) error {
	var ce *schema.ConstraintError
	if errors.As(err, &ce) {
		return err
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("database error: %w", err)
	}

	out := &schema.ConstraintError{
		Table:      pgErr.TableName,
		Column:     pgErr.ColumnName,
		Constraint: pgErr.ConstraintName,
		Detail:     pgErr.Detail,
		Err:        err,
	}
	switch pgErr.Code {
	case "23505":
		out.Kind = schema.ConstraintDuplicate
	case "23503":
		out.Kind = schema.ConstraintForeignKey
	case "23502":
		out.Kind = schema.ConstraintNotNull
	case "42P01", "42703":
		out.Kind = schema.ConstraintUndefined
		out.Detail = pgErr.Message
	case "22P02", "22007", "22008", "22003":
		out.Kind = schema.ConstraintInvalidValue
		out.Detail = pgErr.Message
	default:
		return fmt.Errorf("database error: %w", err)
	}
	return out
}
