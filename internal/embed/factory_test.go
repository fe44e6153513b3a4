package embed

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedder_StaticProvider_AlwaysSucceeds(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, EmbedderConfig{Provider: ProviderStatic, Dimensions: 256})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.Equal(t, "static-256", embedder.ModelName())
	assert.True(t, embedder.Available(ctx))
}

func TestNewEmbedder_ONNXProvider_FallsBackToStaticWithoutAssets(t *testing.T) {
	// Given: an assets dir with no downloaded model
	dir := t.TempDir()
	ctx := context.Background()

	embedder, err := NewEmbedder(ctx, EmbedderConfig{
		Provider:   ProviderONNX,
		AssetsDir:  dir,
		Dimensions: DefaultDimensions,
	})

	// Then: falls back to the static embedder instead of failing startup
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	info := GetInfo(embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
}

func TestNewEmbedder_EnvVarOverridesConfiguredProvider(t *testing.T) {
	orig := os.Getenv("RAGMCP_EMBEDDER")
	defer os.Setenv("RAGMCP_EMBEDDER", orig)
	os.Setenv("RAGMCP_EMBEDDER", "static")

	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, EmbedderConfig{
		Provider:   ProviderONNX,
		AssetsDir:  t.TempDir(),
		Dimensions: 256,
	})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	info := GetInfo(embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
}

func TestNewEmbedder_WrapsWithCacheByDefault(t *testing.T) {
	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, EmbedderConfig{Provider: ProviderStatic, Dimensions: 256})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	_, ok := embedder.(*CachedEmbedder)
	assert.True(t, ok, "embedder should be wrapped in a cache by default")
}

func TestNewEmbedder_CacheDisabledByEnvVar(t *testing.T) {
	orig := os.Getenv("RAGMCP_EMBED_CACHE")
	defer os.Setenv("RAGMCP_EMBED_CACHE", orig)
	os.Setenv("RAGMCP_EMBED_CACHE", "false")

	ctx := context.Background()
	embedder, err := NewEmbedder(ctx, EmbedderConfig{Provider: ProviderStatic, Dimensions: 256})
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	_, ok := embedder.(*CachedEmbedder)
	assert.False(t, ok, "cache should be disabled by RAGMCP_EMBED_CACHE=false")
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want ProviderType
	}{
		{"static", ProviderStatic},
		{"mock", ProviderStatic},
		{"onnx", ProviderONNX},
		{"", ProviderONNX},
		{"bogus", ProviderONNX},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseProvider(tt.in), "ParseProvider(%q)", tt.in)
	}
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("static"))
	assert.True(t, IsValidProvider("ONNX"))
	assert.False(t, IsValidProvider("ollama"))
}
