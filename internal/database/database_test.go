package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	files, err := fs.Glob(EmbeddedMigrations, "migrations/*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		data, err := fs.ReadFile(EmbeddedMigrations, name)
		require.NoError(t, err)
		assert.Contains(t, string(data), "-- +goose Up", name)
		assert.Contains(t, string(data), "-- +goose Down", name)
	}

	data, err := fs.ReadFile(EmbeddedMigrations, "migrations/00001_metric_samples.sql")
	require.NoError(t, err)
	for _, column := range []string{"time", "hostname", "monitor_id", "monitor_type", "connector_id", "metric", "value", "state"} {
		assert.True(t, strings.Contains(string(data), "    "+column+" "), column)
	}
}
