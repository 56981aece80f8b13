package hotkey

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.design/x/hotkey"
)

// OSBinder registers system-wide hotkeys. On macOS the process must run
// under mainthread.Init.
type OSBinder struct {
	log zerolog.Logger
}

// NewOSBinder returns a Binder backed by the operating system.
func NewOSBinder(log zerolog.Logger) *OSBinder {
	return &OSBinder{log: log}
}

// Bind registers spec and starts its event goroutine.
func (b *OSBinder) Bind(spec string, down, up func()) (Binding, error) {
	mods, key, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	hk := hotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return nil, fmt.Errorf("register %s: %w", spec, err)
	}
	ob := &osBinding{hk: hk, spec: spec, done: make(chan struct{}), log: b.log}
	go ob.loop(down, up)
	return ob, nil
}

type osBinding struct {
	hk   *hotkey.Hotkey
	spec string
	log  zerolog.Logger
	done chan struct{}
	once sync.Once
	err  error
}

func (o *osBinding) loop(down, up func()) {
	for {
		select {
		case <-o.done:
			return
		case _, ok := <-o.hk.Keydown():
			if !ok || o.closed() {
				return
			}
			o.log.Debug().Str("hotkey", o.spec).Msg("keydown")
			down()
		case _, ok := <-o.hk.Keyup():
			if !ok || o.closed() {
				return
			}
			o.log.Debug().Str("hotkey", o.spec).Msg("keyup")
			up()
		}
	}
}

func (o *osBinding) closed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

func (o *osBinding) Unregister() error {
	o.once.Do(func() {
		close(o.done)
		o.err = o.hk.Unregister()
	})
	return o.err
}
