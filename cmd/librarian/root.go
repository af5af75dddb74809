package main

import (
	"github.com/spf13/cobra"

	"librarian/internal/version"
)

var (
	// configFlag is an explicit config file; empty searches <root>/.librarian.
	configFlag string
	rootFlag   string
	logLevel   string
	logFormat  string
	verbosity  int
	quiet      bool
)

var rootCmd = &cobra.Command{
	Use:   "librarian",
	Short: "Librarian - use-case review scheduler and release gate",
	Long: `Librarian turns a catalog of use cases with declared prerequisites into
budgeted, dependency-ordered plans per repository, runs them against a query
engine with fail-fast cascading and timeouts, and reduces the results into a
pass/fail release gate.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("librarian version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFlag, "config", "", "Config file (default: <root>/.librarian/config.{json,yaml,toml})")
	flags.StringVar(&rootFlag, "root", ".", "Workspace root that relative paths resolve against")
	flags.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flags.StringVar(&logFormat, "log-format", "", "Log format: human, json (overrides config)")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress all logging")
}
