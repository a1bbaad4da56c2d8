package config

import (
	"io"
	"log/slog"
)

// NewLogger builds a slog.Logger writing in the configured format and level.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	handlerOptions := &slog.HandlerOptions{Level: c.LogLevel}

	if c.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, handlerOptions))
	}

	return slog.New(slog.NewTextHandler(w, handlerOptions))
}
