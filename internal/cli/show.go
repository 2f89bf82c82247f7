package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
)

var (
	showLimit        int
	showCalculations bool
	showAlerts       bool
	showBids         bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent fuel samples, calculations, slab alerts or bids",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:        showLimit,
			Calculations: showCalculations,
			Alerts:       showAlerts,
			Bids:         showBids,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showCalculations, "calculations", false, "Show calculation history")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show slab-shift alerts")
	showCmd.Flags().BoolVar(&showBids, "bids", false, "Show bids")
	showCmd.MarkFlagsMutuallyExclusive("calculations", "alerts", "bids")
}
