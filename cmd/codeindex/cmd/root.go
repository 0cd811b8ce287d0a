// Package cmd provides the CLI commands for codeindex.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/codeindex/codeindex/internal/logctx"
	"github.com/codeindex/codeindex/pkg/version"
)

// Debug logging flag, shared by the PersistentPreRun/PostRun hooks below.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codeindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeindex",
		Short: "Hybrid code search and indexing engine",
		Long: `codeindex builds a local hybrid search index over a codebase,
combining BM25 keyword search with semantic embedding search.

Run 'codeindex index' in a project directory to build the index, then
'codeindex search <query>' to search it.`,
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.SetVersionTemplate("codeindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.codeindex/logs/ and stderr")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newReclusterCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logctx.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg = logctx.DebugConfig()
	}
	logger, cleanup, err := logctx.Setup(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}
