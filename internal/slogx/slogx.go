// Package slogx configures the process-wide slog logger. Importing it applies
// LOG_LEVEL and LOG_FORMAT from the environment; Configure overrides both.
package slogx

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

func init() {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	if err := Configure(level, os.Getenv("LOG_FORMAT"), os.Stderr); err != nil {
		_ = Configure("info", "", os.Stderr)
		slog.Error("error configuring logger from environment", "err", err)
	}
}

// Configure replaces the default logger. format is "text" (the default when
// empty) or "json".
func Configure(level, format string, w io.Writer) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}

	ho := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	default:
		return errors.Errorf("invalid log format %q: must be text or json", format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
