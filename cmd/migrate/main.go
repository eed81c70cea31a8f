package main

// Run database migrations:
//   go run ./cmd/migrate            apply pending migrations
//   go run ./cmd/migrate status     print the applied version
//   go run ./cmd/migrate down       roll back one migration

import (
	"context"
	"fmt"
	"os"

	"compat-backend/internal/shared/config"
	"compat-backend/internal/shared/storage/db"
	"compat-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	switch command {
	case "up":
		err = db.RunMigrations(ctx, sqlDB)
	case "down":
		err = db.RollbackOne(ctx, sqlDB)
	case "status":
		var version int64
		version, err = db.MigrationStatus(ctx, sqlDB)
		if err == nil {
			fmt.Println(version)
		}
	default:
		err = fmt.Errorf("unknown command %q (want up, down or status)", command)
	}
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"command": command, "error": err.Error()})
		os.Exit(1)
	}
}
