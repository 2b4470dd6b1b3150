package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"letterlab-backend/internal/prompts"
)

var (
	seedFile  string
	seedForce bool
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt templates",
}

var promptsSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish default prompts for types without an active version",
	Long: `Publish the default prompt templates.

Defaults come from the embedded defaults.yaml, overridden by --file or
PROMPT_SEED_FILE. Types that already have an active version are skipped
unless --force is given, in which case every type gets a new version.`,
	RunE: runPromptsSeed,
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the active version of every prompt type",
	RunE:  runPromptsList,
}

func init() {
	promptsSeedCmd.Flags().StringVar(&seedFile, "file", "", "YAML file of prompt overrides")
	promptsSeedCmd.Flags().BoolVar(&seedForce, "force", false, "publish a new version even when one is active")
	promptsCmd.AddCommand(promptsSeedCmd, promptsListCmd)
	rootCmd.AddCommand(promptsCmd)
}

func promptService(cmd *cobra.Command) (*prompts.Service, func(), error) {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	conn, cfg, err := openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	path := seedFile
	if path == "" {
		path = cfg.PromptSeedFile
	}
	defaults, err := prompts.LoadDefaults(path)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	svc, err := prompts.NewService(&prompts.PGRepo{DB: conn}, defaults)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return svc, func() { conn.Close() }, nil
}

func runPromptsSeed(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := promptService(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	seeded, err := svc.Seed(ctx, seedForce)
	for _, t := range seeded {
		color.Green("published %-16s v%d", t.PromptType, t.Version)
	}
	if err != nil {
		return err
	}
	if len(seeded) == 0 {
		color.Yellow("every prompt type already has an active version")
	}
	return nil
}

func runPromptsList(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := promptService(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	active, err := svc.ListActive(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%-16s %-8s %-20s %s\n", "Type", "Version", "Modified by", "Created")
	for _, t := range active {
		fmt.Printf("%-16s %-8d %-20s %s\n", t.PromptType, t.Version, t.ModifiedBy, t.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
