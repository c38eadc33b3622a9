package cli

import (
	"github.com/spf13/cobra"

	"price-oracle/internal/app"
)

var dryRunSkipHistory bool

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Gather one record and print it without submitting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().DryRun(cmd.Context(), app.DryRunOptions{SkipHistory: dryRunSkipHistory})
	},
}

func init() {
	dryRunCmd.Flags().BoolVar(&dryRunSkipHistory, "skip-history", false, "Do not rebuild the moving average window from the ledger")
}
