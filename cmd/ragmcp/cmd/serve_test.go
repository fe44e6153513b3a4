package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"serve", "--help"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "stdio")
}

func TestExcludesForDBPath_RelativeWithinRoot(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "vectors.db")

	excludes := excludesForDBPath(root, dbPath)
	require.Len(t, excludes, 1)
	assert.Equal(t, "vectors.db", excludes[0])
}

func TestExcludesForDBPath_OutsideRootReturnsNil(t *testing.T) {
	root := t.TempDir()
	excludes := excludesForDBPath(root, "/tmp/elsewhere/vectors.db")
	assert.Nil(t, excludes)
}
