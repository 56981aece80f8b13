// Package hotkey binds push-to-talk keys and turns raw key events into
// debounced press/release signals.
package hotkey

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNoHotkeyAvailable is returned when none of the candidates could be bound.
var ErrNoHotkeyAvailable = errors.New("no hotkey available")

// Binding is one registered key combination.
type Binding interface {
	Unregister() error
}

// Binder registers a textual hotkey and reports its key-down and key-up events.
type Binder interface {
	Bind(spec string, down, up func()) (Binding, error)
}

// Gate fans in every bound candidate and debounces press and release
// independently.
type Gate struct {
	binder   Binder
	debounce time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu          sync.Mutex
	bindings    []Binding
	bound       []string
	lastPress   time.Time
	lastRelease time.Time
}

// NewGate returns a gate using binder. A zero debounce disables debouncing.
func NewGate(binder Binder, debounce time.Duration, log zerolog.Logger) *Gate {
	return &Gate{binder: binder, debounce: debounce, log: log, now: time.Now}
}

// Register binds candidates in order. Candidates that fail are logged and
// skipped; every one that binds stays active. Any previous bindings are
// released first.
func (g *Gate) Register(candidates []string, onPress, onRelease func()) error {
	g.UnregisterAll()

	var errs []error
	var bindings []Binding
	var bound []string
	for _, spec := range candidates {
		b, err := g.binder.Bind(spec, g.signal(&g.lastPress, onPress), g.signal(&g.lastRelease, onRelease))
		if err != nil {
			g.log.Warn().Err(err).Str("hotkey", spec).Msg("hotkey unavailable; trying next")
			errs = append(errs, fmt.Errorf("%s: %w", spec, err))
			continue
		}
		g.log.Info().Str("hotkey", spec).Msg("hotkey registered")
		bindings = append(bindings, b)
		bound = append(bound, spec)
	}

	g.mu.Lock()
	g.bindings = bindings
	g.bound = bound
	g.mu.Unlock()

	if len(bindings) == 0 {
		if len(errs) == 0 {
			return ErrNoHotkeyAvailable
		}
		return fmt.Errorf("%w: %w", ErrNoHotkeyAvailable, errors.Join(errs...))
	}
	return nil
}

// Bound returns the specs that are currently registered.
func (g *Gate) Bound() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.bound...)
}

// UnregisterAll releases every binding. It is safe to call at any time.
func (g *Gate) UnregisterAll() {
	g.mu.Lock()
	bindings := g.bindings
	g.bindings = nil
	g.bound = nil
	g.mu.Unlock()

	for _, b := range bindings {
		if err := b.Unregister(); err != nil {
			g.log.Debug().Err(err).Msg("hotkey unregister")
		}
	}
}

func (g *Gate) signal(last *time.Time, fn func()) func() {
	return func() {
		g.mu.Lock()
		now := g.now()
		if !last.IsZero() && now.Sub(*last) < g.debounce {
			g.mu.Unlock()
			g.log.Debug().Msg("hotkey event debounced")
			return
		}
		*last = now
		g.mu.Unlock()
		if fn != nil {
			fn()
		}
	}
}
