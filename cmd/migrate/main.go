// Command migrate applies the embedded LetterLab schema. It exists for
// deploy pipelines that run a single binary per step; operators use
// labctl migrate.
//
//	go run ./cmd/migrate
package main

import (
	"context"
	"os"
	"time"

	"letterlab-backend/internal/shared/config"
	"letterlab-backend/internal/shared/storage/db"
	"letterlab-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Configure(cfg.LogFile)
	defer telemetry.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := migrate(ctx, cfg.DatabaseURL); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"error": err.Error()})
		telemetry.Sync()
		os.Exit(1)
	}
}

func migrate(ctx context.Context, databaseURL string) error {
	conn, err := db.Connect(ctx, databaseURL, db.OptionsFromEnv(db.OptionsFor(db.ProfileCLI)))
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn); err != nil {
		return err
	}
	version, err := db.SchemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	telemetry.Info("migrate.done", map[string]any{"version": version})
	return nil
}
