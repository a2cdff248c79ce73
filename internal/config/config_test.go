package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "Guest", cfg.DisplayName)
	assert.Equal(t, 20*time.Second, cfg.Signaling.RequestTimeout)
	assert.Equal(t, 300*time.Millisecond, cfg.Media.LayerDebounce)
	assert.Equal(t, 4, cfg.Spotlight.MaxSpotlights)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ChatWindow)

	profiles, err := cfg.Profiles()
	require.NoError(t, err)
	assert.Equal(t, []int{3840, 1920, 1280, 640, 320}, ProfileKeys(profiles))
	require.Len(t, profiles[640], 2)
	assert.Equal(t, SimulcastEncoding{ScaleResolutionDownBy: 2, MaxBitrate: 150000}, profiles[640][0])
}

func TestProfilesRejectsBadKeys(t *testing.T) {
	cfg := Default()
	cfg.SimulcastProfiles = map[string][]SimulcastEncoding{"wide": {{ScaleResolutionDownBy: 1}}}
	_, err := cfg.Profiles()
	assert.Error(t, err)
}

func TestVideoDimensions(t *testing.T) {
	w, h := Video{Resolution: "high", AspectRatio: 1.6}.Dimensions()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 800, h)

	w, h = Video{Resolution: "bogus"}.Dimensions()
	assert.Equal(t, 640, w)
	assert.Equal(t, 360, h)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "config"), 0o755))
	yaml := []byte(`
display_name: Alice
signaling:
  url: wss://meet.example.com
  room_id: standup
spotlight:
  max_spotlights: 9
http:
  chat_window: 30s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Alice", cfg.DisplayName)
	assert.Equal(t, "wss://meet.example.com", cfg.Signaling.URL)
	assert.Equal(t, "standup", cfg.Signaling.RoomID)
	assert.Equal(t, 9, cfg.Spotlight.MaxSpotlights)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ChatWindow)
	assert.Equal(t, 3, cfg.Signaling.RequestRetries)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Signaling, cfg.Signaling)
}
