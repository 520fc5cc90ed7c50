package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_SanitizeClampsOutOfRangeValues(t *testing.T) {
	cfg := Config{
		Port:                    "",
		MaxMessageSize:          -1,
		RateLimitBurst:          0,
		RateLimitRefillInterval: -time.Second,
		TypingTimeout:           0,
		ShutdownTimeout:         -time.Minute,
	}
	cfg.sanitize()

	require.Equal(t, ":8080", cfg.Port)
	require.Equal(t, int64(4096), cfg.MaxMessageSize)
	require.Equal(t, 10, cfg.RateLimitBurst)
	require.Equal(t, time.Second, cfg.RateLimitRefillInterval)
	require.Equal(t, 3*time.Second, cfg.TypingTimeout)
	require.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestConfig_SanitizeKeepsValidValues(t *testing.T) {
	cfg := Config{
		Port:                    ":9000",
		MaxMessageSize:          1024,
		RateLimitBurst:          5,
		RateLimitRefillInterval: 2 * time.Second,
		TypingTimeout:           5 * time.Second,
		ShutdownTimeout:         time.Second,
	}
	cfg.sanitize()

	require.Equal(t, ":9000", cfg.Port)
	require.Equal(t, int64(1024), cfg.MaxMessageSize)
	require.Equal(t, 5, cfg.RateLimitBurst)
}

func TestConfig_LoadAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotEmpty(t, cfg.Port)
	require.Positive(t, cfg.TypingTimeout)
	require.Positive(t, cfg.MaxMessageSize)
}

func TestConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"garbage", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.name}
		require.Equal(t, tt.level, cfg.SlogLevel(), "level %q", tt.name)
	}
}
