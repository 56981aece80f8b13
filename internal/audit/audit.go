// Package audit appends one JSON line per dictation cycle to a local file.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry describes the outcome of one cycle.
type Entry struct {
	Session  string
	Status   string
	Stage    string
	Duration time.Duration
	Backend  string
	Text     string
	Cost     float64
	Err      error
}

// Sink records entries. Implementations must not block the caller for long.
type Sink interface {
	Record(e Entry)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(Entry) {}

// FileSink writes entries as JSON lines.
type FileSink struct {
	mu  sync.Mutex
	w   io.WriteCloser
	log zerolog.Logger
}

// OpenFile appends to path, creating parent directories.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return NewFileSink(f), nil
}

// NewFileSink writes to w.
func NewFileSink(w io.WriteCloser) *FileSink {
	return &FileSink{w: w, log: zerolog.New(w).With().Timestamp().Logger()}
}

func (s *FileSink) Record(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := s.log.Log().
		Str("session", e.Session).
		Str("status", e.Status).
		Dur("audio_ms", e.Duration)
	if e.Stage != "" {
		ev = ev.Str("stage", e.Stage)
	}
	if e.Backend != "" {
		ev = ev.Str("backend", e.Backend)
	}
	if e.Text != "" {
		ev = ev.Str("text", e.Text)
	}
	if e.Cost > 0 {
		ev = ev.Float64("cost_usd", e.Cost)
	}
	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Send()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Close()
}
