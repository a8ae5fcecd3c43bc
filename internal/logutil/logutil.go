// Package logutil builds the process logger from the logging.* settings.
package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"
)

type Options struct {
	Level  string
	Format string
	Output io.Writer
	// IsTerminal reports whether Output is an interactive terminal. Used by the auto format.
	IsTerminal func() bool
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid logging.level %q (want debug|info|warn|error)", raw)
	}
}

func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	switch format {
	case "", "auto":
		isTTY := opts.IsTerminal
		if isTTY == nil {
			isTTY = func() bool { return term.IsTerminal(int(os.Stderr.Fd())) }
		}
		if isTTY() {
			format = "text"
		} else {
			format = "json"
		}
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid logging.format %q (want text|json|auto)", opts.Format)
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(out, handlerOpts)), nil
	}
	return slog.New(slog.NewJSONHandler(out, handlerOpts)), nil
}

func FromViper() (*slog.Logger, error) {
	return New(Options{
		Level:  viper.GetString("logging.level"),
		Format: viper.GetString("logging.format"),
	})
}
