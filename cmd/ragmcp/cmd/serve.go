package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amanmcp-ragmcp/ragmcp/internal/config"
	"github.com/amanmcp-ragmcp/ragmcp/internal/embed"
	"github.com/amanmcp-ragmcp/ragmcp/internal/logging"
	"github.com/amanmcp-ragmcp/ragmcp/internal/mcp"
	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	"github.com/amanmcp-ragmcp/ragmcp/internal/store"
	syncengine "github.com/amanmcp-ragmcp/ragmcp/internal/sync"
)

// watchDebounce is how long the filesystem watcher waits after the last
// event in a burst before running a sync pass.
const watchDebounce = 500 * time.Millisecond

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the JSON-RPC MCP server on stdio.

Loads the config file, ensures model assets are present, runs an
initial sync pass, and then watches the project tree for changes
until the server's context is canceled.

stdout carries nothing but the JSON-RPC stream; all diagnostics go
to the log file (--log-level, ~/.ragmcp/logs/server.log).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	cleanup, err := logging.SetupMCPModeWithLevel(logLevel)
	if err != nil {
		return ragerrors.Wrap(ragerrors.ConfigInvalid, err)
	}
	defer cleanup()

	cfg, root, err := loadConfigAndRoot()
	if err != nil {
		return err
	}

	assetsDir := filepath.Join(embed.DefaultAssetsDir(), cfg.Model.Name)
	assets := embed.NewAssetManager(assetsDir)
	if !skipDownload && (!assets.ModelExists() || !assets.TokenizerExists()) {
		slog.Info("downloading model assets", slog.String("model", cfg.Model.Name), slog.String("dir", assetsDir))
		if err := assets.EnsureAssets(ctx, func(asset string, downloaded, total int64) {
			slog.Debug("asset download progress", slog.String("asset", asset), slog.Int64("downloaded", downloaded), slog.Int64("total", total))
		}); err != nil {
			return ragerrors.ModelLoadFailedErr("download model assets", err)
		}
	}

	embedder, err := embed.NewEmbedder(ctx, embed.EmbedderConfig{
		Provider:   embed.ProviderONNX,
		AssetsDir:  assetsDir,
		Model:      cfg.Model.Name,
		Dimensions: cfg.Model.Dimensions,
	})
	if err != nil {
		return ragerrors.ModelLoadFailedErr("initialize embedder", err)
	}

	st, err := store.NewSQLiteStoreWithConfig(cfg.DBPath, store.StoreConfig{
		Dimensions: cfg.Model.Dimensions,
	})
	if err != nil {
		return ragerrors.Wrap(ragerrors.IoFailed, err)
	}
	defer st.Close()

	engine := syncengine.NewEngine(st, embedder)
	defer engine.Close()

	opts := syncengine.Options{
		Root:     root,
		Patterns: cfg.DocumentPatterns,
		Excludes: excludesForDBPath(root, cfg.DBPath),
	}

	if !skipSync {
		summary, err := engine.Sync(ctx, opts)
		if err != nil {
			return ragerrors.Wrap(ragerrors.IoFailed, err)
		}
		slog.Info("initial sync complete",
			slog.Int("added", summary.Added),
			slog.Int("updated", summary.Updated),
			slog.Int("deleted", summary.Deleted),
			slog.Int("failed", len(summary.Failed)))

		go func() {
			if err := engine.Watch(ctx, opts, watchDebounce); err != nil {
				slog.Error("file watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	server, err := mcp.NewServer(root, st, engine, embedder, cfg.SearchTopK)
	if err != nil {
		return ragerrors.Wrap(ragerrors.ConfigInvalid, err)
	}
	defer server.Close()

	return server.Serve(ctx, "stdio")
}

// loadConfigAndRoot resolves the project root (for path-prefix excludes
// and the sync engine's Options.Root) and loads --config relative to
// the current working directory, matching config.Load's own default.
func loadConfigAndRoot() (*config.Config, string, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		return nil, "", ragerrors.ConfigInvalidf("resolve project root: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", ragerrors.Wrap(ragerrors.ConfigInvalid, err)
	}
	return cfg, root, nil
}
