package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 1.0, cfg.Monitor.PlaybackRate)
	assert.Equal(t, 64, cfg.Monitor.SubscriberBuffer)
	assert.Equal(t, 45*time.Second, cfg.AI.AnalysisTimeout)
	assert.Equal(t, 20*time.Second, cfg.Monitor.EvidenceTimeout)
	assert.Empty(t, cfg.Tickets.URL)
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("PLAYBACK_RATE", "4")
	t.Setenv("TICKET_TIMEOUT", "3s")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("FRAME_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 4.0, cfg.Monitor.PlaybackRate)
	assert.Equal(t, 3*time.Second, cfg.Tickets.Timeout)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 1024, cfg.AI.FrameSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported db", func(c *Config) { c.Database.Type = "mysql" }},
		{"zero playback rate", func(c *Config) { c.Monitor.PlaybackRate = 0 }},
		{"zero subscriber buffer", func(c *Config) { c.Monitor.SubscriberBuffer = 0 }},
		{"negative timeout", func(c *Config) { c.Tickets.Timeout = -time.Second }},
		{"empty port", func(c *Config) { c.Port = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
