package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treelinehq/treeline/config"
)

func TestSocketOverrideRequiresExplicitFlag(t *testing.T) {
	cfg := &config.IndexerConfig{SocketPath: "/tmp/from-config.sock"}

	// without --socket on the command line the config value stands, even
	// though the flag carries a non-empty default
	applySocketOverride(cfg)
	assert.Equal(t, "/tmp/from-config.sock", cfg.SocketPath)

	require.NoError(t, rootCmd.PersistentFlags().Set("socket", "/tmp/from-cli.sock"))
	applySocketOverride(cfg)
	assert.Equal(t, "/tmp/from-cli.sock", cfg.SocketPath)
}
