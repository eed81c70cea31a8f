package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"compat-backend/internal/shared/telemetry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const migrationsDir = "migrations"

// RunMigrations applies embedded SQL migrations via goose. If database is nil, it's a no-op.
func RunMigrations(ctx context.Context, database *sql.DB) error {
	if database == nil {
		return nil
	}
	if err := prepareGoose(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, database, migrationsDir); err != nil {
		return err
	}
	version, err := goose.GetDBVersionContext(ctx, database)
	if err == nil {
		telemetry.Info("db.migrated", map[string]any{"version": version})
	}
	return nil
}

// MigrationStatus returns the schema version currently applied.
func MigrationStatus(ctx context.Context, database *sql.DB) (int64, error) {
	if err := prepareGoose(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, database)
}

// RollbackOne reverts the most recent migration.
func RollbackOne(ctx context.Context, database *sql.DB) error {
	if err := prepareGoose(); err != nil {
		return err
	}
	return goose.DownContext(ctx, database, migrationsDir)
}

func prepareGoose() error {
	goose.SetBaseFS(migrationFiles)
	goose.SetLogger(gooseLogger{})
	return goose.SetDialect("postgres")
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...interface{}) {
	telemetry.Error("db.goose", map[string]any{"message": gooseMessage(format, v)})
}

func (gooseLogger) Printf(format string, v ...interface{}) {
	telemetry.Debug("db.goose", map[string]any{"message": gooseMessage(format, v)})
}

func gooseMessage(format string, v []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, v...))
}
