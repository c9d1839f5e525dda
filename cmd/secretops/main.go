package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/secretops/secretops/cmd/secretops/commands"
	"github.com/secretops/secretops/internal/config"
	soerrors "github.com/secretops/secretops/internal/errors"
	"github.com/secretops/secretops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		// Collapse wrapped chains to the actionable root cause
		// before printing.
		fmt.Fprintf(os.Stderr, "Error: %v\n", soerrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "secretops",
		Short: "Secret synchronization and rotation service",
		Long: `secretops keeps external secret destinations in sync with your
projects and rotates credentials on a schedule.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			logger := logging.New(debug, noColor)

			// Update config with parsed values
			cfg.Path = configFile
			cfg.Logger = logger
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "secretops.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(
		commands.NewServeCommand(cfg),
		commands.NewCheckCommand(cfg),
		commands.NewDestinationsCommand(cfg),
		commands.NewStrategiesCommand(cfg),
	)

	return rootCmd.Execute()
}
