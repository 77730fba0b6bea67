package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 9100, cfg.ServerPort)
	require.Equal(t, 9101, cfg.ProxyPort)
	require.Equal(t, 10000, cfg.RingBufferCapacity)
	require.Equal(t, 5000, cfg.FlowStoreCapacity)
	require.True(t, cfg.EnableProxy)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("QUERN_HOME", home)

	yamlContent := "server_port: 9200\nring_buffer_capacity: 42\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yamlContent), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.ServerPort)
	require.Equal(t, 42, cfg.RingBufferCapacity)
	// untouched fields keep their defaults
	require.Equal(t, 9101, cfg.ProxyPort)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("QUERN_HOME", home)
	t.Setenv("QUERN_SERVER_PORT", "9300")

	yamlContent := "server_port: 9200\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yamlContent), 0600))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9300, cfg.ServerPort)
}

func TestPathHelpers(t *testing.T) {
	cfg := Config{Home: "/tmp/quern-home"}
	require.Equal(t, "/tmp/quern-home/state.json", cfg.StateFilePath())
	require.Equal(t, "/tmp/quern-home/device-pool.json", cfg.PoolFilePath())
	require.Equal(t, "/tmp/quern-home/api-key", cfg.APIKeyFilePath())
	require.Equal(t, "/tmp/quern-home/daemon.log", cfg.DaemonLogPath())
	require.Equal(t, "/tmp/quern-home/crashes.jsonl", cfg.CrashSpoolPath())
}
