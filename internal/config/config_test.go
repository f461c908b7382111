package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoadPath_LocalConfig(t *testing.T) {
	cfg := MustLoadPath(filepath.Join("..", "..", "config", "local.yaml"))

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.HTTP.AllowOrigins)
	assert.Equal(t, 6, cfg.Room.CodeLength)
	assert.Zero(t, cfg.Room.EmptyRoomTTL)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 150*time.Millisecond, cfg.Heartbeat.MediumLatency)
	assert.Equal(t, 10*time.Second, cfg.Transport.RequestTimeout)
	assert.Equal(t, time.Second, cfg.Playback.MaxDelay)
}

func TestMustLoadPath_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prod.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
room:
  empty_room_ttl: 5m
heartbeat:
  interval: 2s
`), 0o600))

	cfg := MustLoadPath(path)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, 5*time.Minute, cfg.Room.EmptyRoomTTL)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 10*time.Second, cfg.Heartbeat.LatencyProbeInterval, "missing keys fall back to defaults")
	assert.Equal(t, ":8080", cfg.HTTP.Address)
}

func TestMustLoadPath_MissingFile(t *testing.T) {
	assert.Panics(t, func() {
		MustLoadPath(filepath.Join(t.TempDir(), "nope.yaml"))
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 6, cfg.Room.CodeLength)
	assert.Equal(t, 50*time.Millisecond, cfg.Playback.JitterAllowance)
	assert.Equal(t, 256, cfg.Transport.OutboundBuffer)
}
