package ffmpeg

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/audio"
	"github.com/skquievreux/Speechering/internal/config"
)

func TestArgsOpus(t *testing.T) {
	c := New(config.DefaultConfig(), zerolog.Nop())
	args, err := c.args("in.wav", "out.ogg")
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	got := strings.Join(args, " ")
	want := "-y -i in.wav -ac 1 -ar 16000 -c:a libopus -b:a 64k out.ogg"
	if got != want {
		t.Fatalf("args mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestArgsPCMHasNoBitrate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CODECS = "PCM"
	c := New(cfg, zerolog.Nop())
	args, err := c.args("in.wav", "out.wav")
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	for _, a := range args {
		if a == "-b:a" || a == "-sample_fmt" {
			t.Fatalf("unexpected %s in %v", a, args)
		}
	}
}

func TestArgsUnknownCodec(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CODECS = "speex"
	_, err := New(cfg, zerolog.Nop()).args("a", "b")
	if !errors.Is(err, ErrEncodingFailure) {
		t.Fatalf("expected ErrEncodingFailure, got %v", err)
	}
}

func TestConvertMissingBinary(t *testing.T) {
	c := New(config.DefaultConfig(), zerolog.Nop())
	c.Binary = filepath.Join(t.TempDir(), "no-ffmpeg-here")
	_, err := c.Compress(context.Background(), filepath.Join(t.TempDir(), "x.wav"))
	if !errors.Is(err, ErrEncodingFailure) {
		t.Fatalf("expected ErrEncodingFailure, got %v", err)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not on PATH")
	}
	dir := t.TempDir()
	in := filepath.Join(dir, "tone.wav")
	b := audio.NewBuffer(16000, 1)
	chunk := make([]int16, 16000)
	for i := range chunk {
		if (i/20)%2 == 0 {
			chunk[i] = 8000
		} else {
			chunk[i] = -8000
		}
	}
	b.Append(chunk)
	if err := audio.WriteWAV(in, b); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.CODECS = "flac"
	cfg.CONTAINER = "flac"
	c := New(cfg, zerolog.Nop())
	out, err := c.Compress(context.Background(), in)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if filepath.Ext(out) != ".flac" {
		t.Fatalf("unexpected output %s", out)
	}
	back := filepath.Join(dir, "back.wav")
	if err := c.Decode(context.Background(), out, back, 16000, 1); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, err := os.Stat(back); err != nil {
		t.Fatalf("decoded file missing: %v", err)
	}
	got, err := audio.ReadWAV(back)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if got.Samples() != 16000 {
		t.Fatalf("expected 16000 samples after lossless round trip, got %d", got.Samples())
	}
}
