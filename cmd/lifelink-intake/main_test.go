package main

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for flag, def := range map[string]string{"addr": ":3000", "config": "", "log": "info"} {
		f := cmd.Flags().Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	assert.Error(t, cmd.Execute())
}

func TestMissingConfigFailsBeforeListening(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--addr", "127.0.0.1:0",
		"--log", "debug",
	})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open config")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
