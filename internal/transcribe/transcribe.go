// Package transcribe turns recorded audio into text through a local model or
// a remote service, with a router that falls back between them.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Backend names.
const (
	Local  = "local"
	Remote = "remote"
)

// MaxPayloadBytes is the largest upload accepted by remote services.
const MaxPayloadBytes = 25 * 1024 * 1024

var (
	// ErrTranscriptionFailure is returned when every backend failed.
	ErrTranscriptionFailure = errors.New("transcription failed")
	// ErrPayloadTooLarge is returned before any network call for oversized audio.
	ErrPayloadTooLarge = errors.New("audio payload too large")
	// ErrModelUnavailable is returned when the local model cannot be loaded.
	ErrModelUnavailable = errors.New("local model unavailable")
	// ErrBackendUnavailable marks a backend that is not configured or reachable.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

var knownExt = map[string]bool{
	"wav": true, "mp3": true, "m4a": true, "flac": true,
	"ogg": true, "opus": true, "webm": true,
}

// Payload is one encoding of the recording. Data takes precedence over Path.
type Payload struct {
	Name string
	Path string
	Data []byte
}

// Ext returns the lowercase extension without the dot.
func (p Payload) Ext() string {
	name := p.Name
	if name == "" {
		name = p.Path
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Bytes returns the payload content, reading Path if needed.
func (p Payload) Bytes() ([]byte, error) {
	if p.Data != nil {
		return p.Data, nil
	}
	if p.Path == "" {
		return nil, errors.New("empty payload")
	}
	return os.ReadFile(p.Path)
}

func (p Payload) filename() string {
	if p.Name != "" {
		return p.Name
	}
	return filepath.Base(p.Path)
}

// Request is an immutable transcription job.
type Request struct {
	Raw              Payload
	Compressed       *Payload
	CompressForLocal bool
	Language         string
	ModelSize        string
	Preferred        string
	Duration         time.Duration
}

// RemotePayload is the compressed payload when present, otherwise raw.
func (r Request) RemotePayload() Payload {
	if r.Compressed != nil {
		return *r.Compressed
	}
	return r.Raw
}

// LocalPayload is raw audio unless compression for local models was requested.
func (r Request) LocalPayload() Payload {
	if r.CompressForLocal && r.Compressed != nil {
		return *r.Compressed
	}
	return r.Raw
}

// Result is a finished transcription.
type Result struct {
	Text     string
	Backend  string
	NoSpeech bool
	// Response is the raw service response, kept for the cache.
	Response []byte
}

// Backend transcribes one request.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// ValidatePayload checks existence and size. Unknown extensions are logged and allowed.
func ValidatePayload(p Payload, log zerolog.Logger) error {
	var size int64
	switch {
	case p.Data != nil:
		size = int64(len(p.Data))
	case p.Path != "":
		fi, err := os.Stat(p.Path)
		if err != nil {
			return fmt.Errorf("audio file: %w", err)
		}
		size = fi.Size()
	default:
		return errors.New("empty payload")
	}
	if size == 0 {
		return errors.New("empty payload")
	}
	if size > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrPayloadTooLarge, size, MaxPayloadBytes)
	}
	if ext := p.Ext(); !knownExt[ext] {
		log.Warn().Str("ext", ext).Str("file", p.filename()).Msg("unrecognized audio format; sending anyway")
	}
	return nil
}

// finish turns backend text into a Result; blank text means no speech.
func finish(backend, text string, raw []byte) Result {
	text = strings.TrimSpace(text)
	return Result{Text: text, Backend: backend, NoSpeech: text == "", Response: raw}
}

// EstimateCost returns the approximate remote cost in USD at $0.006 per minute.
func EstimateCost(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Minutes() * 0.006
}
