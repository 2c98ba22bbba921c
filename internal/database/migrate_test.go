package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(embedMigrations, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	for _, e := range entries {
		body, err := fs.ReadFile(embedMigrations, "migrations/"+e.Name())
		require.NoError(t, err)
		assert.Contains(t, string(body), "-- +goose Up", e.Name())
		assert.Contains(t, string(body), "-- +goose Down", e.Name())
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	for _, table := range []string{"constituencies", "elections", "candidates", "voters", "votes", "admins"} {
		assert.Contains(t, bootstrapSQL, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
	assert.Equal(t, strings.Count(bootstrapSQL, "CREATE TABLE"), strings.Count(bootstrapSQL, "IF NOT EXISTS"))
}
