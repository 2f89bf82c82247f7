package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
)

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Load rate slabs, accessorials, lanes, carriers and draft bids from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := app.LoadImportFile(args[0])
		if err != nil {
			return err
		}
		res, err := getApp().Import(cmd.Context(), file)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "slabs: %d  accessorials: %d  lanes: %d  carriers: %d  bids: %d\n",
			res.Slabs, res.Accessorials, res.Lanes, res.Carriers, res.Bids)
		return nil
	},
}
