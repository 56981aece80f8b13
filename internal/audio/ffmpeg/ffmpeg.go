// Package ffmpeg wraps the ffmpeg CLI for compressing and decoding recordings.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/config"
)

// ErrEncodingFailure is returned when ffmpeg cannot produce the output file.
var ErrEncodingFailure = errors.New("audio encoding failed")

// Compressor converts WAV recordings into the configured codec/container.
type Compressor struct {
	Binary     string
	Codec      string
	Container  string
	BitRate    int
	Channels   int
	SampleRate int
	Depth      int
	log        zerolog.Logger
}

// New builds a Compressor from the config snapshot.
func New(cfg config.Config, log zerolog.Logger) *Compressor {
	return &Compressor{
		Binary:     "ffmpeg",
		Codec:      cfg.CODECS,
		Container:  config.ContainerExt(cfg.CONTAINER),
		BitRate:    cfg.BIT_RATE,
		Channels:   cfg.Channels,
		SampleRate: cfg.SAMPLING_RATE,
		Depth:      cfg.SAMPLING_RATE_DEPTH,
		log:        log,
	}
}

// Available reports whether the ffmpeg binary is on PATH.
func (c *Compressor) Available() bool {
	_, err := exec.LookPath(c.Binary)
	return err == nil
}

// Compress writes a compressed sibling of inPath and returns its path.
func (c *Compressor) Compress(ctx context.Context, inPath string) (string, error) {
	out := strings.TrimSuffix(inPath, filepath.Ext(inPath)) + "." + c.Container
	if out == inPath {
		out = strings.TrimSuffix(inPath, filepath.Ext(inPath)) + ".enc." + c.Container
	}
	if err := c.Convert(ctx, inPath, out); err != nil {
		return "", err
	}
	return out, nil
}

// Convert converts input audio into the configured codec/container.
func (c *Compressor) Convert(ctx context.Context, inPath, outPath string) error {
	args, err := c.args(inPath, outPath)
	if err != nil {
		return err
	}
	return c.run(ctx, args, outPath)
}

// Decode converts any ffmpeg-readable file to 16-bit PCM WAV at the given rate.
func (c *Compressor) Decode(ctx context.Context, inPath, outPath string, rate, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	args := []string{"-y", "-i", inPath, "-ac", strconv.Itoa(channels), "-ar", strconv.Itoa(rate), "-c:a", "pcm_s16le", outPath}
	return c.run(ctx, args, outPath)
}

func (c *Compressor) run(ctx context.Context, args []string, outPath string) error {
	c.log.Debug().Str("cmd", c.Binary+" "+strings.Join(args, " ")).Msg("executing ffmpeg")
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("%w: %v: %s", ErrEncodingFailure, err, strings.TrimSpace(lastLines(stderr.String(), 5)))
	}
	if fi, err := os.Stat(outPath); err != nil || fi.Size() == 0 {
		_ = os.Remove(outPath)
		return fmt.Errorf("%w: empty output %s", ErrEncodingFailure, outPath)
	}
	return nil
}

func (c *Compressor) args(inPath, outPath string) ([]string, error) {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	bitrate := c.BitRate
	if bitrate <= 0 {
		bitrate = 128
	}

	ffCodec, codecHasBitrate := codecFor(c.Codec)
	if ffCodec == "" {
		return nil, fmt.Errorf("%w: unsupported codec %q", ErrEncodingFailure, c.Codec)
	}

	args := []string{"-y", "-i", inPath, "-ac", strconv.Itoa(channels)}
	if c.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(c.SampleRate))
	}
	args = append(args, "-c:a", ffCodec)
	if !strings.HasPrefix(ffCodec, "pcm_") {
		if codecHasBitrate {
			args = append(args, "-b:a", fmt.Sprintf("%dk", bitrate))
		}
		// libopus only takes s16 or flt
		if fmtName := sampleFmt(c.Depth); fmtName != "" && ffCodec != "libopus" {
			args = append(args, "-sample_fmt", fmtName)
		}
	}
	return append(args, outPath), nil
}

func sampleFmt(depth int) string {
	switch depth {
	case 8:
		return "u8"
	case 16:
		return "s16"
	case 24:
		return "s24"
	case 32:
		return "s32"
	}
	return ""
}

func codecFor(key string) (string, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "opus", "libopus":
		return "libopus", true
	case "aac":
		return "aac", true
	case "mp3":
		return "libmp3lame", true
	case "flac":
		return "flac", false
	case "pcm":
		return "pcm_s16le", false
	case "vorbis", "libvorbis":
		return "libvorbis", true
	case "pcm_s16le":
		return k, false
	default:
		return "", false
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
