package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantLang string
	}{
		{name: "markdown", path: "README.md", wantLang: "markdown"},
		{name: "go", path: "pkg/lib/utils.go", wantLang: "go"},
		{name: "rust", path: "main.rs", wantLang: "rust"},
		{name: "python", path: "script.py", wantLang: "python"},
		{name: "typescript", path: "app.ts", wantLang: "typescript"},
		{name: "tsx", path: "Component.tsx", wantLang: "tsx"},
		{name: "javascript", path: "app.js", wantLang: "javascript"},
		{name: "jsx", path: "Component.jsx", wantLang: "javascript"},
		{name: "uppercase extension", path: "README.MD", wantLang: "markdown"},
		{name: "unknown extension", path: "file.xyz", wantLang: ""},
		{name: "no extension", path: "LICENSE", wantLang: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantLang, DetectLanguage(tt.path))
		})
	}
}

func TestScan_BasicFiles(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "README.md"), []byte("# hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte("package main"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("skip me"), 0o644))

	files, err := Scan(tmpDir, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "README.md", files[0].Path)
	assert.Equal(t, "markdown", files[0].Language)
	assert.Equal(t, "main.go", files[1].Path)
	assert.Equal(t, "go", files[1].Language)
}

func TestScan_DeterministicOrder(t *testing.T) {
	tmpDir := t.TempDir()
	names := []string{"zebra.go", "apple.go", "mango.go"}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, n), []byte("package main"), 0o644))
	}

	files, err := Scan(tmpDir, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "apple.go", files[0].Path)
	assert.Equal(t, "mango.go", files[1].Path)
	assert.Equal(t, "zebra.go", files[2].Path)
}

func TestScan_ExcludesPrefix(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "vendor", "dep.go"), []byte("package vendor"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "main.go"), []byte("package main"), 0o644))

	files, err := Scan(tmpDir, nil, []string{"vendor"}, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0].Path)
}

func TestScan_CustomExtensions(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.md"), []byte("# a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.py"), []byte("x = 1"), 0o644))

	files, err := Scan(tmpDir, nil, nil, []string{".md"})
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.md", files[0].Path)
}

func TestScan_PatternRestrictsSubtree(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "docs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "docs", "guide.md"), []byte("# guide"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "src", "main.go"), []byte("package main"), 0o644))

	files, err := Scan(tmpDir, []string{"docs"}, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "docs/guide.md", files[0].Path)
}

func TestScan_MissingPatternRootIsNotAnError(t *testing.T) {
	tmpDir := t.TempDir()
	files, err := Scan(tmpDir, []string{"nonexistent"}, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScan_OverlappingPatternsDeduped(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a.go"), []byte("package main"), 0o644))

	files, err := Scan(tmpDir, []string{"./", "."}, nil, nil)
	require.NoError(t, err)
	require.Len(t, files, 1)
}
