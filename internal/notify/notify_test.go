package notify

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type panicky struct{}

func (panicky) Notify(string) error { panic("toast service crashed") }

func (panicky) Beep(float64, time.Duration) error { return errors.New("no speaker") }

func TestSafeSwallowsPanicsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	s := Safe{N: panicky{}, Log: zerolog.New(&buf).Level(zerolog.DebugLevel)}
	if err := s.Notify("hello"); err != nil {
		t.Fatalf("Safe.Notify returned %v", err)
	}
	if err := s.Beep(StartFreq, BeepLen); err != nil {
		t.Fatalf("Safe.Beep returned %v", err)
	}
	if !strings.Contains(buf.String(), "toast service crashed") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "no speaker") {
		t.Fatalf("error not logged: %s", buf.String())
	}
}

func TestSafeWithoutNotifier(t *testing.T) {
	if err := (Safe{Log: zerolog.Nop()}).Notify("x"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestDesktopDisabledIsSilent(t *testing.T) {
	d := Desktop{Title: "Speechering"}
	if err := d.Notify("x"); err != nil {
		t.Fatalf("disabled notify returned %v", err)
	}
	if err := d.Beep(StopFreq, BeepLen); err != nil {
		t.Fatalf("disabled beep returned %v", err)
	}
}
