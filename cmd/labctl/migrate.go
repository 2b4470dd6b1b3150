package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"letterlab-backend/internal/shared/storage/db"
)

var (
	migrateDown   bool
	migrateStatus bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back the most recent migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print the applied schema version and exit")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	conn, _, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch {
	case migrateStatus:
	case migrateDown:
		if err := db.RollbackMigration(ctx, conn); err != nil {
			return err
		}
		color.Yellow("rolled back one migration")
	default:
		if err := db.RunMigrations(ctx, conn); err != nil {
			return err
		}
		color.Green("migrations applied")
	}

	version, err := db.SchemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	color.Cyan("schema version %d", version)
	return nil
}
