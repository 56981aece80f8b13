// Package inject places text at the cursor of the focused application.
package inject

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"
	"github.com/rs/zerolog"
)

// MaxTextChars is the longest text that will be injected.
const MaxTextChars = 10000

// ErrInjectionFailure is returned when text could not be placed at the cursor.
var ErrInjectionFailure = errors.New("text injection failed")

// Injector places text into the focused application.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

func (SystemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// Keystroker sends the platform paste shortcut.
type Keystroker interface {
	Paste() error
}

// PasteInjector copies the text, sends the paste shortcut and restores the
// previous clipboard content.
type PasteInjector struct {
	clip   Clipboard
	keys   Keystroker
	settle time.Duration
	after  time.Duration
	log    zerolog.Logger
}

// NewPasteInjector returns an injector using clip and keys.
func NewPasteInjector(clip Clipboard, keys Keystroker, log zerolog.Logger) *PasteInjector {
	return &PasteInjector{clip: clip, keys: keys, settle: 80 * time.Millisecond, after: 120 * time.Millisecond, log: log}
}

// Inject pastes text. On failure after the copy the clipboard keeps the text.
func (p *PasteInjector) Inject(ctx context.Context, text string) error {
	if err := Check(text); err != nil {
		return err
	}
	orig, origErr := p.clip.ReadAll()
	if err := p.clip.WriteAll(text); err != nil {
		return fmt.Errorf("%w: clipboard write: %v", ErrInjectionFailure, err)
	}
	if err := sleep(ctx, p.settle); err != nil {
		return fmt.Errorf("%w: %v", ErrInjectionFailure, err)
	}
	if err := p.keys.Paste(); err != nil {
		return fmt.Errorf("%w: paste keystroke: %v", ErrInjectionFailure, err)
	}
	if err := sleep(ctx, p.after); err != nil {
		return nil
	}
	if origErr == nil {
		if err := p.clip.WriteAll(orig); err != nil {
			p.log.Debug().Err(err).Msg("clipboard restore failed")
		}
	}
	p.log.Debug().Int("chars", utf8.RuneCountInString(text)).Msg("text pasted")
	return nil
}

// ClipboardInjector only copies the text; the user pastes it.
type ClipboardInjector struct {
	Clip Clipboard
}

func (c ClipboardInjector) Inject(_ context.Context, text string) error {
	if err := Check(text); err != nil {
		return err
	}
	if err := c.Clip.WriteAll(text); err != nil {
		return fmt.Errorf("%w: clipboard write: %v", ErrInjectionFailure, err)
	}
	return nil
}

// Check rejects empty and oversized text.
func Check(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", ErrInjectionFailure)
	}
	if n := utf8.RuneCountInString(text); n > MaxTextChars {
		return fmt.Errorf("%w: text too long (%d chars)", ErrInjectionFailure, n)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// KeyPaster sends Ctrl+V (Cmd+V on macOS) through keybd_event.
type KeyPaster struct {
	kb keybd_event.KeyBonding
}

// NewKeyPaster prepares the virtual keyboard.
func NewKeyPaster() (*KeyPaster, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, fmt.Errorf("virtual keyboard: %w", err)
	}
	// the uinput device needs time to appear before the first event
	if runtime.GOOS == "linux" {
		time.Sleep(2 * time.Second)
	}
	setPasteModifier(&kb)
	kb.SetKeys(keybd_event.VK_V)
	return &KeyPaster{kb: kb}, nil
}

func (k *KeyPaster) Paste() error {
	return k.kb.Launching()
}
