package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectorCmd_ConfigDefaultsToEnv(t *testing.T) {
	t.Setenv("RELAY_CONFIG", "/etc/relay/relay.yaml")

	cmd := newDetectorCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	path, err := cmd.Flags().GetString("config")
	require.NoError(t, err)
	assert.Equal(t, "/etc/relay/relay.yaml", path)

	require.NoError(t, cmd.ParseFlags([]string{"--config", "local.yaml"}))
	path, err = cmd.Flags().GetString("config")
	require.NoError(t, err)
	assert.Equal(t, "local.yaml", path)
}

func TestDetectorCmd_RejectsArgs(t *testing.T) {
	cmd := newDetectorCmd()
	cmd.SetArgs([]string{"extra"})
	cmd.SilenceErrors = true
	assert.Error(t, cmd.Execute())
}
