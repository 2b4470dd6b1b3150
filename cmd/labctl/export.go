package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"letterlab-backend/internal/admin"
	"letterlab-backend/internal/labsessions"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every session as flattened CSV",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "sessions.csv", "output file, - for stdout")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	conn, _, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessions, err := (&labsessions.PGRepo{DB: conn}).List(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		color.Yellow("No sessions found")
		return nil
	}
	data, err := admin.SessionsCSV(sessions)
	if err != nil {
		return err
	}
	if exportOut == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0o600); err != nil {
		return err
	}
	color.Green("wrote %d session(s) to %s", len(sessions), exportOut)
	return nil
}
