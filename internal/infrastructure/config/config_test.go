package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5103, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Registry.HeartbeatTimeout)
	assert.Equal(t, 600*time.Second, cfg.Registry.CleanOfflineNodesTimeout)
	assert.Equal(t, time.Minute, cfg.Registry.OfflineCheckInterval)
	assert.Equal(t, 0, cfg.Transit.MaxQueueSize)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Same(t, cfg, Get())
}

func TestLoadEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SIDECAR_SERVER_PORT", "6000")
	t.Setenv("SIDECAR_TRANSIT_MAX_QUEUE_SIZE", "32")
	t.Setenv("SIDECAR_STORE_DRIVER", "redis")

	cfg, err := Load("debug")
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, 32, cfg.Transit.MaxQueueSize)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Server.Mode)
}

func TestLoadRejectsUnknownStoreDriver(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("SIDECAR_STORE_DRIVER", "leveldb")

	_, err := Load("")
	assert.Error(t, err)
}
