package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	"github.com/phrazzld/shotstudio/internal/platform/postgres/migrations"
)

var migrationCommands = []string{
	migrations.CommandUp,
	migrations.CommandDown,
	migrations.CommandReset,
	migrations.CommandStatus,
	migrations.CommandVersion,
}

// handleMigrations runs one goose command. It's called from main() when the
// -migrate flag is set.
func handleMigrations(ctx context.Context, db *sql.DB, command string, logger *slog.Logger) error {
	if !slices.Contains(migrationCommands, command) {
		return fmt.Errorf("unknown migration command %q, want one of %v", command, migrationCommands)
	}

	logger.Info("Executing migrations", "command", command)
	if err := migrations.Run(ctx, db, command, logger); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	return nil
}
