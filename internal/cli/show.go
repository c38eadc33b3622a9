package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-oracle/internal/app"
)

var (
	showLength int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the moving average window rebuilt from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLength < 0 {
			return fmt.Errorf("--length cannot be negative")
		}

		opts := app.ShowOptions{
			Length: showLength,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLength, "length", 0, "Window length (defaults to moving_average.length)")
}
