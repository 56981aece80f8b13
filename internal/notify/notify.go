// Package notify shows desktop notifications and feedback beeps.
package notify

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

// Beep tones for recording start and stop.
const (
	StartFreq = 1000.0
	StopFreq  = 800.0
	BeepLen   = 200 * time.Millisecond
)

// Notifier delivers short user-facing messages.
type Notifier interface {
	Notify(message string) error
	Beep(freq float64, d time.Duration) error
}

// Desktop uses the OS notification center and speaker.
type Desktop struct {
	Title       string
	Enabled     bool
	BeepEnabled bool
}

func (d Desktop) Notify(message string) error {
	if !d.Enabled {
		return nil
	}
	return beeep.Notify(d.Title, message, "")
}

func (d Desktop) Beep(freq float64, dur time.Duration) error {
	if !d.BeepEnabled {
		return nil
	}
	return beeep.Beep(freq, int(dur.Milliseconds()))
}

// Safe wraps a Notifier so that errors and panics are logged and dropped.
type Safe struct {
	N   Notifier
	Log zerolog.Logger
}

func (s Safe) Notify(message string) error {
	s.guard("notify", func() error { return s.N.Notify(message) })
	return nil
}

func (s Safe) Beep(freq float64, d time.Duration) error {
	s.guard("beep", func() error { return s.N.Beep(freq, d) })
	return nil
}

func (s Safe) guard(op string, fn func() error) {
	if s.N == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.Log.Warn().Str("op", op).Str("panic", fmt.Sprint(r)).Msg("notifier panicked")
		}
	}()
	if err := fn(); err != nil {
		s.Log.Debug().Err(err).Str("op", op).Msg("notification failed")
	}
}
