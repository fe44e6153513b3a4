package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amanmcp-ragmcp/ragmcp/internal/ragerrors"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	output := buf.String()
	assert.Contains(t, output, "ragmcp")
	assert.Contains(t, output, "Usage:")
}

func TestRootCmd_ShowsVersion(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "ragmcp version")
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}

	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "index")
	assert.Contains(t, names, "search")
	assert.Contains(t, names, "version")
}

func TestRootCmd_HasPersistentFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"config", "log-level", "skip-download", "skip-sync"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s flag", name)
	}

	flag := cmd.PersistentFlags().Lookup("config")
	assert.Equal(t, "./config.json", flag.DefValue)

	flag = cmd.PersistentFlags().Lookup("log-level")
	assert.Equal(t, "info", flag.DefValue)
}

func TestExitCodeFor_TransportFailedIsTwo(t *testing.T) {
	err := ragerrors.TransportFailedErr("stdio", nil)
	assert.Equal(t, 2, exitCodeFor(err))
}

func TestExitCodeFor_ConfigInvalidIsOne(t *testing.T) {
	err := ragerrors.ConfigInvalidf("bad config")
	assert.Equal(t, 1, exitCodeFor(err))
}

func TestExitCodeFor_ModelLoadFailedIsOne(t *testing.T) {
	err := ragerrors.ModelLoadFailedErr("load model", nil)
	assert.Equal(t, 1, exitCodeFor(err))
}

func TestExitCodeFor_UnknownErrorIsOne(t *testing.T) {
	assert.Equal(t, 1, exitCodeFor(assertUnwrappedErr{}))
}

type assertUnwrappedErr struct{}

func (assertUnwrappedErr) Error() string { return "boom" }
