package cmd

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/amanmcp-ragmcp/ragmcp/internal/config"
	"github.com/amanmcp-ragmcp/ragmcp/internal/embed"
	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
	"github.com/amanmcp-ragmcp/ragmcp/internal/store"
)

// loadConfig loads --config, matching config.Load's own "./config.json"
// default when the flag is unset.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, ragerrors.Wrap(ragerrors.ConfigInvalid, err)
	}
	return cfg, nil
}

// openEmbedderAndStore builds the embedder and store the same way serve
// does. CLI conveniences always use the ONNX provider with its static
// fallback (never a hard --skip-download requirement), since blocking
// a one-shot index/search command on a model download the user didn't
// explicitly ask for would be surprising.
func openEmbedderAndStore(ctx context.Context, cfg *config.Config) (embed.Embedder, *store.SQLiteStore, error) {
	assetsDir := filepath.Join(embed.DefaultAssetsDir(), cfg.Model.Name)

	embedder, err := embed.NewEmbedder(ctx, embed.EmbedderConfig{
		Provider:   embed.ProviderONNX,
		AssetsDir:  assetsDir,
		Model:      cfg.Model.Name,
		Dimensions: cfg.Model.Dimensions,
	})
	if err != nil {
		return nil, nil, ragerrors.ModelLoadFailedErr("initialize embedder", err)
	}

	st, err := store.NewSQLiteStoreWithConfig(cfg.DBPath, store.StoreConfig{
		Dimensions: cfg.Model.Dimensions,
	})
	if err != nil {
		return nil, nil, ragerrors.Wrap(ragerrors.IoFailed, err)
	}

	return embedder, st, nil
}

// excludesForDBPath returns the sync Options.Excludes entry for the
// configured database file, expressed root-relative since the scanner
// compares excludes against each file's root-relative path.
func excludesForDBPath(root, dbPath string) []string {
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	return []string{rel}
}
