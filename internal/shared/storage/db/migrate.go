package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"

	"docparse-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

var gooseSetup sync.Once

// RunMigrations brings the documents schema to the latest version. A nil
// database is a no-op so memory and Firestore deployments can call it freely.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	return Migrate(ctx, database, "up")
}

// Migrate runs one goose command against the embedded documents schema:
// up, up-by-one, down, reset, status or version.
func Migrate(ctx context.Context, database *sql.DB, command string) error {
	if database == nil {
		return nil
	}
	var setupErr error
	gooseSetup.Do(func() {
		goose.SetBaseFS(migrationFiles)
		setupErr = goose.SetDialect("postgres")
	})
	if setupErr != nil {
		return setupErr
	}

	var err error
	switch command {
	case "up":
		err = goose.UpContext(ctx, database, migrationsDir)
	case "up-by-one":
		err = goose.UpByOneContext(ctx, database, migrationsDir)
	case "down":
		err = goose.DownContext(ctx, database, migrationsDir)
	case "reset":
		err = goose.ResetContext(ctx, database, migrationsDir)
	case "status":
		err = goose.StatusContext(ctx, database, migrationsDir)
	case "version":
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
	if err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}

	version, err := goose.GetDBVersionContext(ctx, database)
	if err != nil {
		return fmt.Errorf("goose version: %w", err)
	}
	telemetry.Info("db.migrated", map[string]any{"command": command, "version": version})
	return nil
}
