// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driverconn

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogConfig selects the logger built by NewLogger.
type LogConfig struct {
	Level     string `toml:"level"`
	Format    string `toml:"format"` // "console" or "json"
	NoColor   bool   `toml:"no_color"`
	Timestamp bool   `toml:"timestamp"`
}

// NewLogger builds a logger writing to out.
func NewLogger(cfg LogConfig, out io.Writer) zerolog.Logger {
	level, ok := parseLevel(cfg.Level)
	if !ok {
		level = zerolog.InfoLevel
	}

	w := out
	if !strings.EqualFold(cfg.Format, "json") {
		w = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(w).Level(level).With().Str("component", "driverconn")
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
