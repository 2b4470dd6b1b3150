package main

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"letterlab-backend/internal/progress"
	"letterlab-backend/internal/tokens"
)

var (
	tokenCount int
	tokenNote  string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage participant access tokens",
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue one-time access tokens",
	RunE:  runTokensCreate,
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List access tokens and their state",
	RunE:  runTokensList,
}

var tokensInvalidateCmd = &cobra.Command{
	Use:   "invalidate TOKEN...",
	Short: "Revoke access tokens",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTokensInvalidate,
}

func init() {
	tokensCreateCmd.Flags().IntVarP(&tokenCount, "count", "n", 1, "number of tokens to issue")
	tokensCreateCmd.Flags().StringVar(&tokenNote, "note", "", "note stored with each token")
	tokensCmd.AddCommand(tokensCreateCmd, tokensListCmd, tokensInvalidateCmd)
	rootCmd.AddCommand(tokensCmd)
}

func withTokens(cmd *cobra.Command, fn func(svc *tokens.Service) error) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	conn, _, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(tokenService(conn))
}

func tokenService(conn *sql.DB) *tokens.Service {
	return tokens.NewService(&tokens.PGRepo{DB: conn}, progress.NopPublisher{})
}

func runTokensCreate(cmd *cobra.Command, args []string) error {
	return withTokens(cmd, func(svc *tokens.Service) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		issued, err := svc.Generate(ctx, tokenCount, tokenNote)
		if err != nil {
			return err
		}
		for _, t := range issued {
			fmt.Println(t.Token)
		}
		color.Green("issued %d token(s)", len(issued))
		return nil
	})
}

func runTokensList(cmd *cobra.Command, args []string) error {
	return withTokens(cmd, func(svc *tokens.Service) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		items, err := svc.List(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%-34s %-12s %-38s %s\n", "Token", "State", "Session", "Note")
		fmt.Println(strings.Repeat("─", 100))
		used, revoked := 0, 0
		for _, t := range items {
			state := color.GreenString("%-12s", "unused")
			switch {
			case t.Invalidated:
				state = color.RedString("%-12s", "invalidated")
				revoked++
			case t.UsedAt != nil:
				state = color.YellowString("%-12s", "used")
				used++
			}
			fmt.Printf("%-34s %s %-38s %s\n", t.Token, state, t.SessionID, t.Note)
		}
		fmt.Printf("\nTotal: %d tokens (%d used, %d invalidated)\n", len(items), used, revoked)
		return nil
	})
}

func runTokensInvalidate(cmd *cobra.Command, args []string) error {
	return withTokens(cmd, func(svc *tokens.Service) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		var failed int
		for _, token := range args {
			err := svc.Invalidate(ctx, token)
			switch {
			case err == nil:
				color.Green("invalidated %s", token)
			case errors.Is(err, tokens.ErrNotFound):
				color.Yellow("unknown token %s", token)
				failed++
			default:
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d token(s) not found", failed)
		}
		return nil
	})
}
