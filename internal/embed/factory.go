package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType selects which Embedder implementation NewEmbedder builds.
type ProviderType string

const (
	// ProviderONNX loads the configured model from local assets and runs
	// it through the ONNX runtime via github.com/yalue/onnxruntime_go.
	// This is the default.
	ProviderONNX ProviderType = "onnx"

	// ProviderStatic uses the hash-based mock embedder. Used in tests and
	// as an explicit opt-out of the model asset requirement.
	ProviderStatic ProviderType = "static"
)

// EmbedderConfig configures NewEmbedder. AssetsDir holds the downloaded
// model and tokenizer files; Model names the configured model (used for
// logging and as part of the embedding cache key); Dimensions is the
// expected output width, used to size the static fallback so an index
// keeps comparable vectors regardless of which provider produced them.
type EmbedderConfig struct {
	Provider   ProviderType
	AssetsDir  string
	Model      string
	Dimensions int
	CacheSize  int
}

// NewEmbedder builds the configured Embedder, wrapped in a query
// embedding cache unless RAGMCP_EMBED_CACHE disables it. The
// RAGMCP_EMBEDDER environment variable overrides cfg.Provider so an
// operator can force the static fallback without touching config.json.
func NewEmbedder(ctx context.Context, cfg EmbedderConfig) (Embedder, error) {
	provider := cfg.Provider
	if override := os.Getenv("RAGMCP_EMBEDDER"); override != "" {
		provider = ProviderType(strings.ToLower(override))
	}

	var embedder Embedder
	var err error

	switch provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(cfg.Dimensions)
	case ProviderONNX, "":
		embedder, err = newONNXWithFallback(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embedder provider %q", provider)
	}

	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedder(embedder, cfg.CacheSize)
	}

	return embedder, nil
}

// newONNXWithFallback loads the production embedder from AssetsDir. If
// the model assets are missing, it falls back to the static embedder
// rather than failing the whole server. Nothing here downloads the
// assets; that happens before NewEmbedder is called, if at all.
func newONNXWithFallback(ctx context.Context, cfg EmbedderConfig) (Embedder, error) {
	assets := NewAssetManager(cfg.AssetsDir)
	if !assets.ModelExists() || !assets.TokenizerExists() {
		return NewStaticEmbedder(cfg.Dimensions), nil
	}

	embedder, err := NewONNXEmbedder(ctx, ONNXConfig{
		ModelPath:     assets.ModelPath(),
		TokenizerPath: assets.TokenizerPath(),
		ModelName:     cfg.Model,
		Dimensions:    cfg.Dimensions,
	})
	if err != nil {
		return nil, newModelLoadFailed("load onnx model", err)
	}
	return embedder, nil
}

// isCacheDisabled checks if the embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("RAGMCP_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// ParseProvider converts a string to ProviderType, defaulting to the
// production ONNX embedder for any unrecognized value.
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static", "mock":
		return ProviderStatic
	default:
		return ProviderONNX
	}
}

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names.
func ValidProviders() []string {
	return []string{string(ProviderONNX), string(ProviderStatic)}
}

// IsValidProvider checks if a provider name is valid.
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// Info describes the active embedder: which provider backs it, its model
// name and its output dimensions.
type Info struct {
	Provider   ProviderType
	Model      string
	Dimensions int
}

// GetInfo returns information about an embedder, unwrapping a
// CachedEmbedder to inspect the underlying implementation.
func GetInfo(embedder Embedder) Info {
	info := Info{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *ONNXEmbedder:
		info.Provider = ProviderONNX
	default:
		info.Provider = ProviderStatic
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure. Use only in
// tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, cfg EmbedderConfig) Embedder {
	embedder, err := NewEmbedder(ctx, cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
