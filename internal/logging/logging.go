// Package logging builds the zerolog logger shared by every long-lived service.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string
	// Format is console, json or auto. Auto picks console when Output is a terminal.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a configured logger. An unparseable level falls back to info
// and is reported on the returned logger.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if useConsole(opts.Format, out) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if err != nil {
		logger.Warn().Str("level", opts.Level).Msg("unknown log level, using info")
	}
	return logger
}

func useConsole(format string, out io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console":
		return true
	case "json":
		return false
	}
	f, ok := out.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Describe renders the effective settings for the startup banner.
func Describe(opts Options) string {
	format := opts.Format
	if format == "" {
		format = "auto"
	}
	return fmt.Sprintf("level=%s format=%s", opts.Level, format)
}
