package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a minimal config.json pointing db_path at a
// file inside dir, and returns its path.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.json")
	data, err := json.Marshal(map[string]any{
		"db_path": filepath.Join(dir, "vectors.db"),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, data, 0o644))
	return cfgPath
}

func writeTestProject(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# Hello\n\nSome searchable content about widgets.\n"), 0o644))
}

func TestIndexCmd_CreatesMetadataDB(t *testing.T) {
	t.Setenv("RAGMCP_EMBEDDER", "static")

	dir := t.TempDir()
	writeTestProject(t, dir)
	cfgPath := writeTestConfig(t, dir)

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", cfgPath, "index", dir})

	require.NoError(t, cmd.Execute())
	assert.FileExists(t, filepath.Join(dir, "vectors.db"))
	assert.Contains(t, buf.String(), "added=")
}

func TestIndexCmd_RejectsTooManyArgs(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"index", "a", "b"})
	assert.Error(t, cmd.Execute())
}

func TestIndexCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"index", "--help"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "sync pass")
}
