// Package main implements the entry point for the shotstudio server, which
// orchestrates batched product-photo generations with quota refunds and
// reload recovery.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/phrazzld/shotstudio/internal/platform/postgres/migrations"
)

func main() {
	migrateCmd := flag.String("migrate", "",
		"run a migration command (up, down, reset, status, version) and exit")
	skipMigrations := flag.Bool("skip-migrations", false,
		"start without applying pending migrations")
	flag.Parse()

	if err := run(context.Background(), *migrateCmd, *skipMigrations); err != nil {
		log.Printf("shotstudio: %v", err)
		os.Exit(1)
	}
}

// run loads configuration, connects the backing services and serves until
// a shutdown signal arrives.
func run(ctx context.Context, migrateCmd string, skipMigrations bool) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}

	logger, err := setupAppLogger(cfg)
	if err != nil {
		return err
	}
	logConfig(logger, cfg)

	db, err := setupAppDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		return handleMigrations(ctx, db, migrateCmd, logger)
	}
	if !skipMigrations {
		if err := handleMigrations(ctx, db, migrations.CommandUp, logger); err != nil {
			_ = db.Close()
			return err
		}
	}

	rdb, err := setupAppRedis(ctx, cfg, logger)
	if err != nil {
		_ = db.Close()
		return err
	}

	app, err := newApplication(ctx, cfg, logger, db, rdb)
	if err != nil {
		_ = rdb.Close()
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return app.Run(ctx)
}
