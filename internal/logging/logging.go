// Package logging builds the zerolog loggers used across the application.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/config"
)

// Component names used as the "component" field.
const (
	Record   = "record"
	Hotkey   = "hotkey"
	Upload   = "upload"
	FFmpeg   = "ffmpeg"
	Pipeline = "pipeline"
	Model    = "model"
	Inject   = "inject"
	Main     = "main"
)

// New builds the root logger: human-readable console output on stderr and,
// when LOG_FILE is set, JSON lines appended to that file.
// The returned closer releases the log file.
func New(cfg config.Config) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	var out io.Writer = console
	var closer io.Closer = nopCloser{}

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("open log file: %w", err)
		}
		out = zerolog.MultiLevelWriter(console, f)
		closer = f
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer, nil
}

// Component returns a child logger tagged with name. If debug is set the
// component logs at debug level regardless of the root level.
func Component(root zerolog.Logger, name string, debug bool) zerolog.Logger {
	l := root.With().Str("component", name).Logger()
	if debug && l.GetLevel() > zerolog.DebugLevel {
		l = l.Level(zerolog.DebugLevel)
	}
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
