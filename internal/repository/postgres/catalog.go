package postgres

import (
	"context"

	"civic-shield/internal/schema"
)

// Catalog reads table metadata from information_schema in the public schema.
type Catalog struct {
	exec schema.Executor
}

func NewCatalog(exec schema.Executor) *Catalog {
	return &Catalog{exec: exec}
}

const (
	columnsQuery = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	tablesLikeQuery = `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name ILIKE $1
		ORDER BY table_name`

	requiredColumnsQuery = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		  AND is_nullable = 'NO' AND column_default IS NULL
		  AND is_identity = 'NO'
		ORDER BY ordinal_position`
)

func (c *Catalog) names(ctx context.Context, query, key, arg string) ([]string, error) {
	rows, err := c.exec.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.String(key))
	}
	return out, nil
}

func (c *Catalog) Columns(ctx context.Context, table string) ([]string, error) {
	return c.names(ctx, columnsQuery, "column_name", table)
}

func (c *Catalog) TablesLike(ctx context.Context, pattern string) ([]string, error) {
	return c.names(ctx, tablesLikeQuery, "table_name", pattern)
}

func (c *Catalog) RequiredColumns(ctx context.Context, table string) ([]string, error) {
	return c.names(ctx, requiredColumnsQuery, "column_name", table)
}
