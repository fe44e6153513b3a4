package cmd

import (
	"context"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/amanmcp-ragmcp/ragmcp/internal/output"
	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	syncengine "github.com/amanmcp-ragmcp/ragmcp/internal/sync"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Run one sync pass and exit",
		Long: `Run a single sync pass over the project and exit, without
starting the MCP server.

Useful for pre-warming the index before handing the project to an
editor, or for CI to verify indexing succeeds.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(cmd.Context(), cmd, path)
		},
	}
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string) error {
	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ragerrors.ConfigInvalidf("resolve path %q: %v", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	embedder, st, err := openEmbedderAndStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	engine := syncengine.NewEngine(st, embedder)
	defer engine.Close()

	summary, err := engine.Sync(ctx, syncengine.Options{
		Root:     absPath,
		Patterns: cfg.DocumentPatterns,
		Excludes: excludesForDBPath(absPath, cfg.DBPath),
	})
	if err != nil {
		return ragerrors.Wrap(ragerrors.IoFailed, err)
	}

	out.Successf("added=%d updated=%d deleted=%d failed=%d",
		summary.Added, summary.Updated, summary.Deleted, len(summary.Failed))
	for _, f := range summary.Failed {
		out.Errorf("%s (%s)", f.Path, f.Reason)
	}
	return nil
}
