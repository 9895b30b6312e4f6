// Package logger builds the structured logger shared by every Norns component.
// Production uses JSON lines; development can use slog's text format.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/rafaeljc/norns/internal/config"
)

// redactedKeys are attributes whose values grant access when leaked:
// an identity token is enough to impersonate a visitor.
var redactedKeys = map[string]bool{
	"token":   true,
	"api_key": true,
}

// tokenPrefix is how much of a redacted value is kept for correlation.
const tokenPrefix = 6

// New returns a logger configured by cfg that writes to os.Stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter returns a logger configured by cfg that writes to w.
// Every record carries the service, version and env attributes.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// file:line is useful while developing and too costly in production.
		AddSource:   cfg.Environment != config.EnvironmentProduction,
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler).With(
		slog.String("service", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// redact masks sensitive string attributes, keeping a short prefix.
func redact(_ []string, a slog.Attr) slog.Attr {
	if !redactedKeys[a.Key] || a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	if len(v) > tokenPrefix {
		v = v[:tokenPrefix]
	}
	return slog.String(a.Key, v+"****")
}

// parseLevel converts a level name (any case) to slog.Level. Unknown names map to INFO.
func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
