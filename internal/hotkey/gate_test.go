package hotkey

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeBinding struct {
	spec       string
	down, up   func()
	unregister int
}

func (b *fakeBinding) Unregister() error {
	b.unregister++
	return nil
}

type fakeBinder struct {
	fail  map[string]bool
	bound map[string]*fakeBinding
}

func newFakeBinder(fail ...string) *fakeBinder {
	f := &fakeBinder{fail: map[string]bool{}, bound: map[string]*fakeBinding{}}
	for _, s := range fail {
		f.fail[s] = true
	}
	return f
}

func (f *fakeBinder) Bind(spec string, down, up func()) (Binding, error) {
	if f.fail[spec] {
		return nil, errors.New("already taken")
	}
	b := &fakeBinding{spec: spec, down: down, up: up}
	f.bound[spec] = b
	return b, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGate(b Binder, debounce time.Duration) (*Gate, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	g := NewGate(b, debounce, zerolog.Nop())
	g.now = c.now
	return g, c
}

func TestRegisterKeepsEverySuccessfulCandidate(t *testing.T) {
	fb := newFakeBinder("f12")
	g, _ := newTestGate(fb, 100*time.Millisecond)
	if err := g.Register([]string{"f12", "ctrl+shift+s", "alt+shift+s"}, nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got := g.Bound()
	if len(got) != 2 || got[0] != "ctrl+shift+s" || got[1] != "alt+shift+s" {
		t.Fatalf("unexpected bound set %v", got)
	}
}

func TestRegisterNoneAvailable(t *testing.T) {
	fb := newFakeBinder("f12", "f11")
	g, _ := newTestGate(fb, 0)
	if err := g.Register([]string{"f12", "f11"}, nil, nil); !errors.Is(err, ErrNoHotkeyAvailable) {
		t.Fatalf("expected ErrNoHotkeyAvailable, got %v", err)
	}
	if err := g.Register(nil, nil, nil); !errors.Is(err, ErrNoHotkeyAvailable) {
		t.Fatalf("expected ErrNoHotkeyAvailable for empty list, got %v", err)
	}
}

func TestDebouncePerSignalKind(t *testing.T) {
	fb := newFakeBinder()
	g, clk := newTestGate(fb, 100*time.Millisecond)
	var presses, releases int
	if err := g.Register([]string{"f12", "f9"}, func() { presses++ }, func() { releases++ }); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f12, f9 := fb.bound["f12"], fb.bound["f9"]

	f12.down()
	clk.advance(20 * time.Millisecond)
	f9.down() // fan-in shares the press window
	clk.advance(10 * time.Millisecond)
	f12.up() // release has its own window
	if presses != 1 || releases != 1 {
		t.Fatalf("expected 1/1, got %d/%d", presses, releases)
	}

	clk.advance(50 * time.Millisecond)
	f12.down()
	if presses != 1 {
		t.Fatalf("press 80ms after the accepted one was not debounced; got %d", presses)
	}
	clk.advance(20 * time.Millisecond)
	f12.down()
	if presses != 2 {
		t.Fatalf("expected second press accepted, got %d", presses)
	}
}

func TestDebounceMeasuredFromLastAccepted(t *testing.T) {
	fb := newFakeBinder()
	g, clk := newTestGate(fb, 100*time.Millisecond)
	presses := 0
	if err := g.Register([]string{"f12"}, func() { presses++ }, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	b := fb.bound["f12"]
	b.down()
	for i := 0; i < 3; i++ {
		clk.advance(40 * time.Millisecond)
		b.down()
	}
	// 120ms since the accepted press; dropped events do not extend the window
	if presses != 2 {
		t.Fatalf("expected 2 presses, got %d", presses)
	}
}

func TestUnregisterAllIdempotent(t *testing.T) {
	fb := newFakeBinder()
	g, _ := newTestGate(fb, 0)
	g.UnregisterAll()
	if err := g.Register([]string{"f12"}, nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	g.UnregisterAll()
	g.UnregisterAll()
	if fb.bound["f12"].unregister != 1 {
		t.Fatalf("expected one unregister, got %d", fb.bound["f12"].unregister)
	}
	if len(g.Bound()) != 0 {
		t.Fatalf("bindings left after UnregisterAll")
	}
}

func TestParseSpec(t *testing.T) {
	mods, key, err := ParseSpec("Ctrl + Shift + S")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if len(mods) != 2 || key != keys["s"] {
		t.Fatalf("unexpected parse: %v %v", mods, key)
	}
	if _, key, err := ParseSpec("f12"); err != nil || key != keys["f12"] {
		t.Fatalf("f12: %v %v", key, err)
	}
	mods, _, err = ParseSpec("ctrl+control+a")
	if err != nil || len(mods) != 1 {
		t.Fatalf("duplicate modifiers should collapse: %v %v", mods, err)
	}
	for _, bad := range []string{"", "ctrl+", "hyper+s", "ctrl+pagedown"} {
		if _, _, err := ParseSpec(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
