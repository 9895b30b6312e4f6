package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafaeljc/norns/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	t.Run("Should emit JSON lines carrying service identity attributes", func(t *testing.T) {
		// Arrange
		var buf bytes.Buffer
		cfg := &config.AppConfig{
			Name:        "norns-test",
			Version:     "v1.2.3",
			Environment: config.EnvironmentProduction,
			LogLevel:    "info",
			LogFormat:   "json",
		}

		// Act
		log := NewWithWriter(cfg, &buf)
		log.Info("decision made", slog.String("experiment", "hero"))

		// Assert
		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "decision made", line["msg"])
		assert.Equal(t, "norns-test", line["service"])
		assert.Equal(t, "v1.2.3", line["version"])
		assert.Equal(t, "production", line["env"])
		assert.Equal(t, "hero", line["experiment"])
		assert.NotContains(t, line, "source", "production logs must not carry source locations")
	})

	t.Run("Should use the text handler and drop records below the configured level", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "svc", Environment: "development", LogLevel: "warn", LogFormat: "text"}

		log := NewWithWriter(cfg, &buf)
		log.Info("hidden")
		log.Warn("visible")

		out := buf.String()
		assert.NotContains(t, out, "hidden")
		assert.Contains(t, out, "msg=visible")
		assert.Contains(t, out, "service=svc")
	})

	t.Run("Should redact identity tokens", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := &config.AppConfig{Name: "svc", Environment: "development", LogLevel: "info", LogFormat: "json"}

		log := NewWithWriter(cfg, &buf)
		log.Info("identity resolved",
			slog.String("token", "5f9c0e1d2b3a48e7a1c6d0f9e8b7a654"),
			slog.String("api_key", "abc"),
		)

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "5f9c0e****", line["token"])
		assert.Equal(t, "abc****", line["api_key"])
	})

	t.Run("Should panic on nil config", func(t *testing.T) {
		assert.Panics(t, func() { NewWithWriter(nil, &bytes.Buffer{}) })
	})
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "Warn", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "super-critical", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}
