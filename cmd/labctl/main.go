// Command labctl runs operator tasks against the LetterLab database:
// migrations, prompt seeding, access tokens and session export.
package main

import (
	"os"

	"github.com/fatih/color"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}
