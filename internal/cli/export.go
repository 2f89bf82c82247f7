package cli

import (
	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportXLSXPath  string
	exportRegion    string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export fuel prices as CSV/PNG and calculation history as XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			XLSXPath:  exportXLSXPath,
			Region:    exportRegion,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := parseTime("from", exportFrom)
			if err != nil {
				return err
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := parseTime("to", exportTo)
			if err != nil {
				return err
			}
			opts.To = &to
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start date or timestamp (inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End date or timestamp (exclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the fuel price / surcharge chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write fuel price CSV data")
	exportCmd.Flags().StringVar(&exportXLSXPath, "xlsx", "", "Path to write the calculation history workbook")
	exportCmd.Flags().StringVar(&exportRegion, "region", "", "Restrict the export to one region")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
