package config_test

import (
	"testing"

	"remote-cache/core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "5002", cfg.Server.Port)
	assert.Equal(t, "fs", cfg.Backing.Driver)
	assert.Equal(t, "./cache", cfg.Backing.Root)
	assert.Equal(t, "sqlite", cfg.Index.Driver)
	assert.Equal(t, 10000, cfg.Index.BatchLimit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("BACKING_DRIVER", "s3")
	t.Setenv("INDEX_BATCH_LIMIT", "500")

	cfg, err := config.LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Backing.Driver)
	assert.Equal(t, 500, cfg.Index.BatchLimit)
}
