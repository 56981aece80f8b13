package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skquievreux/Speechering/internal/config"
)

// Session is one press-to-release cycle. It is never reused.
type Session struct {
	ID      string
	Started time.Time
	Config  config.Config

	stop      chan struct{}
	stopOnce  sync.Once
	recording atomic.Bool

	mu    sync.Mutex
	files []string
}

func newSession(cfg config.Config, now time.Time) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Started: now,
		Config:  cfg,
		stop:    make(chan struct{}),
	}
}

// RequestStop signals the worker to stop capturing. Safe to call repeatedly.
func (s *Session) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Recording reports whether audio is still being captured.
func (s *Session) Recording() bool {
	return s.recording.Load()
}

func (s *Session) track(path string) {
	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()
}

func (s *Session) tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}

func (s *Session) shortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}
