// Package main provides the entry point for the tributary CLI tool.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tributary-data/tributary/cmd/tributary/commands"
	"github.com/tributary-data/tributary/pkg/version"
)

var verbose bool

func main() {
	// Source tokens from a local .env during development; absence is fine.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "tributary",
		Short: "Tributary - incremental extraction into a partitioned data lake",
		Long: `Tributary ingests paginated sources incrementally: fetch, validate
against a declared contract, land as partitioned Parquet, and advance a
durable per-source checkpoint only after the data is on disk.

Commands:
  run         Ingest every source declared in the catalog
  checkpoint  Inspect or clear stored per-source progress`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewCheckpointCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintln(os.Stdout, version.String())
		},
	}
}
