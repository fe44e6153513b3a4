// Package cmd provides the CLI commands for ragmcp.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	"github.com/amanmcp-ragmcp/ragmcp/pkg/version"
)

// Root flags, shared by every subcommand.
var (
	configPath   string
	logLevel     string
	skipDownload bool
	skipSync     bool
)

// NewRootCmd creates the root command for the ragmcp CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragmcp",
		Short: "Local-first RAG MCP server for AI coding assistants",
		Long: `ragmcp indexes a project's Markdown and source files and serves
semantic search, plus BM25 keyword search over symbols, over the
Model Context Protocol.

Run 'ragmcp serve' in a project directory to start the MCP server on
stdio, or use 'ragmcp index' / 'ragmcp search' as standalone
conveniences over the same index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("ragmcp version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "./config.json", "Path to the JSON config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&skipDownload, "skip-download", false, "Never download model assets; fail or fall back to static embeddings")
	cmd.PersistentFlags().BoolVar(&skipSync, "skip-sync", false, "Skip the initial sync pass on startup")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and returns the process exit code per
// spec.md §6: 0 clean shutdown, 1 config/model load failure, 2
// transport error.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ragerrors.FormatForUser(err))
		return exitCodeFor(err)
	}
	return 0
}

func exitCodeFor(err error) int {
	var ragErr *ragerrors.RagError
	if errors.As(err, &ragErr) {
		switch ragErr.Kind {
		case ragerrors.TransportFailed:
			return 2
		case ragerrors.ConfigInvalid, ragerrors.ModelLoadFailed:
			return 1
		}
	}
	return 1
}
