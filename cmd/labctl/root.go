package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"letterlab-backend/internal/shared/config"
	"letterlab-backend/internal/shared/storage/db"
)

var (
	databaseURL string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "labctl",
	Short:         "Operate a LetterLab deployment",
	Long:          "labctl migrates the database, seeds prompts, issues access tokens and exports sessions.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "Postgres URL (default: DATABASE_URL)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall command timeout")
}

// openDB connects using the flag, falling back to the environment and .env files.
func openDB(ctx context.Context) (*sql.DB, config.Config, error) {
	cfg := config.Load()
	url := databaseURL
	if url == "" {
		url = cfg.DatabaseURL
	}
	if url == "" {
		return nil, cfg, errors.New("DATABASE_URL is required")
	}
	conn, err := db.Connect(ctx, url, db.OptionsFromEnv(db.OptionsFor(db.ProfileCLI)))
	if err != nil {
		return nil, cfg, err
	}
	return conn, cfg, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
