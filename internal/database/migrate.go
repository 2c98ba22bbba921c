// Package database applies the service-owned migrations and, on request,
// creates the election tables for a fresh deployment.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"civic-shield/internal/util"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

//go:embed bootstrap.sql
var bootstrapSQL string

func withGoose(pool *pgxpool.Pool, fn func(db *sql.DB) error) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return fn(db)
}

// RunMigrations applies every pending migration.
func RunMigrations(pool *pgxpool.Pool) error {
	return withGoose(pool, func(db *sql.DB) error {
		return goose.Up(db, "migrations")
	})
}

// MigrateDown rolls back the last migration.
func MigrateDown(pool *pgxpool.Pool) error {
	return withGoose(pool, func(db *sql.DB) error {
		return goose.Down(db, "migrations")
	})
}

func MigrationStatus(pool *pgxpool.Pool) error {
	return withGoose(pool, func(db *sql.DB) error {
		return goose.Status(db, "migrations")
	})
}

// Bootstrap creates the canonical election tables when they are absent.
// Existing tables, whatever their naming, are left untouched.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, bootstrapSQL); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	util.Info("Election schema bootstrapped", zap.String("mode", "if_not_exists"))
	return nil
}
