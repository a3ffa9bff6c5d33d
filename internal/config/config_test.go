package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MATCH_ELO_BAND", "150")
	t.Setenv("MATCH_POLL_MS", "250")
	t.Setenv("ENGINE_POOL", "true")
	t.Setenv("ALLOWED_ORIGINS", "localhost:5173, example.com ,")
	t.Setenv("SWEEP_INTERVAL_MS", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 150, cfg.MatchEloBand)
	require.Equal(t, 250*time.Millisecond, cfg.MatchPoll)
	require.Equal(t, 30*time.Second, cfg.MatchWindow)
	require.Equal(t, time.Second, cfg.SweepInterval)
	require.Equal(t, 24*time.Hour, cfg.RoomTTL)
	require.True(t, cfg.EnginePool)
	require.Equal(t, []string{"localhost:5173", "example.com"}, cfg.AllowedOrigins)
	require.Error(t, cfg.RequireEngine())
}
