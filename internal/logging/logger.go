// Package logging builds the service zerolog logger from LogConfig.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/scenekit/internal/config"
)

// Logger pairs the configured zerolog logger with the file it may own.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New creates the logger described by cfg. File output creates the log
// directory and appends to FilePath.
func New(cfg config.LogConfig) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", cfg.Level, err)
	}

	var (
		out  io.Writer
		file *os.File
	)
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		file, err = os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		out = file
	default:
		out = os.Stderr
	}
	return &Logger{Logger: build(out, cfg.Format, level), file: file}, nil
}

// NewWriter builds a logger over an arbitrary writer.
func NewWriter(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	return build(out, format, level)
}

func build(out io.Writer, format string, level zerolog.Level) zerolog.Logger {
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}
