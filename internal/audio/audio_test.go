package audio

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestBufferDurationFromSamples(t *testing.T) {
	b := NewBuffer(16000, 1)
	if b.Duration() != 0 {
		t.Fatalf("empty buffer should have zero duration")
	}
	for i := 0; i < 16; i++ {
		b.Append(make([]int16, 1000))
	}
	if got := b.Duration(); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
	b.Append(make([]int16, 8000))
	if got := b.Duration(); got != 1500*time.Millisecond {
		t.Fatalf("duration not recomputed after append: %v", got)
	}
}

func TestBufferStereoDuration(t *testing.T) {
	b := NewBuffer(8000, 2)
	b.Append(make([]int16, 16000))
	if got := b.Duration(); got != time.Second {
		t.Fatalf("expected 1s for stereo, got %v", got)
	}
}

func TestBufferAppendCopies(t *testing.T) {
	b := NewBuffer(16000, 1)
	chunk := []int16{1, 2, 3}
	b.Append(chunk)
	chunk[0] = 99
	if b.Frames[0][0] != 1 {
		t.Fatalf("buffer aliases caller slice")
	}
}

func TestWAVRoundTrip(t *testing.T) {
	b := NewBuffer(16000, 1)
	b.Append([]int16{0, 100, -100, 32767})
	b.Append([]int16{-32768, 5})
	path := filepath.Join(t.TempDir(), "rt.wav")
	if err := WriteWAV(path, b); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	got, err := ReadWAV(path)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if got.SampleRate != 16000 || got.Channels != 1 {
		t.Fatalf("format mismatch: %d/%d", got.SampleRate, got.Channels)
	}
	want := b.PCM()
	pcm := got.PCM()
	if len(pcm) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(pcm))
	}
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("sample %d: want %d got %d", i, want[i], pcm[i])
		}
	}
}

func TestDecodeWAVBytesRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAVBytes([]byte("definitely not riff data")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestResolveDevice(t *testing.T) {
	devs := []Device{
		{Index: 0, Name: "Speakers", Channels: 0},
		{Index: 1, Name: "Built-in Microphone", Channels: 1},
		{Index: 2, Name: "USB Headset Mic", Channels: 1},
		{Index: 3, Name: "usb", Channels: 2},
	}
	cases := []struct {
		name    string
		sel     DeviceSelector
		want    int
		matched bool
	}{
		{"default", DeviceSelector{Index: -1}, 1, true},
		{"exact name wins over substring", DeviceSelector{Name: "USB", Index: -1}, 3, true},
		{"substring", DeviceSelector{Name: "headset", Index: -1}, 2, true},
		{"index", DeviceSelector{Index: 2}, 2, true},
		{"name miss falls to index", DeviceSelector{Name: "nope", Index: 2}, 2, true},
		{"unknown name falls back", DeviceSelector{Name: "nope", Index: -1}, 1, false},
		{"output-only index falls back", DeviceSelector{Index: 0}, 1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok, err := resolveDevice(devs, 1, tc.sel)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Index != tc.want || ok != tc.matched {
				t.Fatalf("got index %d ok=%v, want %d ok=%v", d.Index, ok, tc.want, tc.matched)
			}
		})
	}
}

func TestResolveDeviceNoInput(t *testing.T) {
	_, _, err := resolveDevice([]Device{{Index: 0, Name: "Speakers"}}, -1, DeviceSelector{Index: -1})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestResolveDeviceWithoutDefaultUsesFirstInput(t *testing.T) {
	devs := []Device{
		{Index: 0, Name: "Speakers"},
		{Index: 4, Name: "USB Mic", Channels: 1},
		{Index: 5, Name: "Line In", Channels: 2},
	}
	d, ok, err := resolveDevice(devs, -1, DeviceSelector{Index: -1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Index != 4 || ok {
		t.Fatalf("got index %d ok=%v, want first input 4 with ok=false", d.Index, ok)
	}
}
