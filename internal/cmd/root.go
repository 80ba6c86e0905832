package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "CI pipeline orchestration engine",
	Long: `gantry runs CI pipelines defined as YAML job graphs. Jobs declare
their dependencies with needs; gantry schedules independent jobs in
parallel, evaluates guard conditions at dispatch time, restores and
saves caches, and hands artifacts between jobs. A failed job skips
everything downstream of it without stopping unrelated branches of
the graph.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	logLevel  string
	logFormat string
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under a cancellable context
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
}

// newLogger builds the logger from the global flags and installs it as
// the process default.
func newLogger() *log.Logger {
	logger := log.New(log.Config{
		Level:  log.ParseLevel(logLevel),
		Format: log.ParseFormat(logFormat),
		Output: os.Stderr,
	})
	log.SetDefaultLogger(logger)
	return logger
}
