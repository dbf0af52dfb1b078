package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/zsiec/framexchange/internal/config"
)

// newLogger builds the process logger. Text output is used on terminals and
// JSON otherwise unless format forces one; DEBUG in the environment forces
// debug level.
func newLogger(f *os.File, level, format string) (*slog.Logger, error) {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if os.Getenv("DEBUG") != "" {
		lvl = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(f, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(f, opts)), nil
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(f, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(f, opts)), nil
}
