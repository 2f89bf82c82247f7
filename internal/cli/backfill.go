package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical fuel prices and slab shifts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := parseTime("from", backfillFrom)
		if err != nil {
			return err
		}

		to, err := parseTime("to", backfillTo)
		if err != nil {
			return err
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		res, err := getApp().Backfill(cmd.Context(), app.BackfillOptions{
			From:   from,
			To:     to,
			DryRun: backfillDryRun,
		})
		fmt.Fprintf(cmd.OutOrStdout(), "samples: %d  shifts: %d  failed: %d\n", res.Samples, res.Shifts, res.Failed)
		return err
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start date (inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End date (exclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch and log prices without writing to storage")
}
