package migrations

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	names, err := Files()
	require.NoError(t, err)
	require.Equal(t, []string{
		"00001_create_quota_tables.sql",
		"00002_create_generation_records.sql",
		"00003_add_reservation_window.sql",
	}, names)

	for _, name := range names {
		body, err := files.ReadFile("sql/" + name)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "-- +goose Up"), name)
		assert.True(t, strings.Contains(string(body), "-- +goose Down"), name)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	t.Parallel()

	err := Run(context.Background(), &sql.DB{}, "sideways", slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "unknown migration command")
}
