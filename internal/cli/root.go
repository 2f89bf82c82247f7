package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"freight-procurement/internal/app"
	"freight-procurement/internal/config"
	"freight-procurement/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	actor     string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:   "freightctl",
	Short: "Freight procurement: bids, carrier responses, awards and fuel surcharges",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger, app.WithOutput(cmd.OutOrStdout()))
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "User recorded on audit events")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(bidCmd)
	rootCmd.AddCommand(responseCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "freightctl"
}

// parseTime accepts a calendar date or an RFC3339 timestamp.
func parseTime(flag, value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q: want YYYY-MM-DD or RFC3339", flag, value)
	}
	return t, nil
}
