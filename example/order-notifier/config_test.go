package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  address: 127.0.0.1:8080
hub:
  pending_window: 5s
socket:
  allow_unverified_join: true
`), 0o600))

	t.Setenv("ORDER_NOTIFIER_LIMITER_MAX", "7")

	cfg, err := initConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.HTTP.Address)
	assert.Equal(t, 5*time.Second, cfg.Hub.PendingWindow)
	assert.Equal(t, 32, cfg.Hub.PendingLimit)
	assert.True(t, cfg.Socket.AllowUnverifiedJoin)
	assert.Equal(t, 7, cfg.Limiter.Max)
	assert.Equal(t, 30*time.Second, cfg.Stream.HeartbeatInterval)
}

func TestInitConfig_missingFile(t *testing.T) {
	cfg, err := initConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9090", cfg.HTTP.Address)
}

func TestInitConfig_staleAfterHeartbeat(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{name: "defaults", yaml: "log:\n  level: info\n", wantErr: false},
		{name: "stale before heartbeat", yaml: "hub:\n  stale_after: 20s\nstream:\n  heartbeat_interval: 30s\n", wantErr: true},
		{name: "equal", yaml: "hub:\n  stale_after: 30s\nstream:\n  heartbeat_interval: 30s\n", wantErr: true},
		{name: "sweeper off", yaml: "hub:\n  sweep_interval: 0s\n  stale_after: 20s\nstream:\n  heartbeat_interval: 30s\n", wantErr: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := initConfig(path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}
