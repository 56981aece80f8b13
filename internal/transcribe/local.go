package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/audio"
)

// Model is a loaded speech model.
type Model interface {
	Transcribe(ctx context.Context, wavPath, language string) (string, error)
	Close() error
}

// ModelLoader loads a model of the given size.
type ModelLoader interface {
	Load(ctx context.Context, size string) (Model, error)
}

// ModelInfo describes the currently loaded model.
type ModelInfo struct {
	Size     string
	Loaded   bool
	LoadedAt time.Time
	Loads    int
}

// ModelHandle owns the process-wide local model. It loads lazily and reloads
// when a different size is requested. Failed loads are not remembered.
type ModelHandle struct {
	loader ModelLoader
	log    zerolog.Logger

	mu       sync.Mutex
	model    Model
	size     string
	loadedAt time.Time
	loads    int
}

// NewModelHandle returns an empty handle.
func NewModelHandle(loader ModelLoader, log zerolog.Logger) *ModelHandle {
	return &ModelHandle{loader: loader, log: log}
}

// Use runs fn with a model of the requested size, loading or reloading as
// needed. The handle stays locked while fn runs.
func (h *ModelHandle) Use(ctx context.Context, size string, fn func(Model) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, err := h.acquire(ctx, size)
	if err != nil {
		return err
	}
	return fn(m)
}

// Reload makes sure a model of size is loaded, replacing any other size.
func (h *ModelHandle) Reload(ctx context.Context, size string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.acquire(ctx, size)
	return err
}

func (h *ModelHandle) acquire(ctx context.Context, size string) (Model, error) {
	if h.model != nil && h.size == size {
		return h.model, nil
	}
	if h.model != nil {
		h.log.Info().Str("from", h.size).Str("to", size).Msg("model size changed; reloading")
		if err := h.model.Close(); err != nil {
			h.log.Debug().Err(err).Msg("closing previous model")
		}
		h.model, h.size = nil, ""
	}
	start := time.Now()
	m, err := h.loader.Load(ctx, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModelUnavailable, size, err)
	}
	h.model, h.size, h.loadedAt = m, size, time.Now()
	h.loads++
	h.log.Info().Str("size", size).Dur("took", time.Since(start)).Msg("model loaded")
	return m, nil
}

// Info reports what is loaded.
func (h *ModelHandle) Info() ModelInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return ModelInfo{Size: h.size, Loaded: h.model != nil, LoadedAt: h.loadedAt, Loads: h.loads}
}

// Close releases the loaded model.
func (h *ModelHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.model == nil {
		return nil
	}
	err := h.model.Close()
	h.model, h.size = nil, ""
	return err
}

// ModelSampleRate is the only input rate whisper.cpp accepts.
const ModelSampleRate = 16000

// Decoder converts an audio file into a PCM WAV file.
// *ffmpeg.Compressor implements it.
type Decoder interface {
	Decode(ctx context.Context, inPath, outPath string, rate, channels int) error
}

// LocalBackend transcribes on this machine through a ModelHandle.
type LocalBackend struct {
	// Decoder converts payloads that are not 16 kHz mono WAV. Without one
	// such payloads are rejected.
	Decoder Decoder

	handle  *ModelHandle
	speech  SpeechOptions
	tempDir string
	log     zerolog.Logger
	// check reports whether the runtime is present at all.
	check func() bool
}

// NewLocalBackend builds the backend. tempDir receives WAV files for
// payloads that only exist in memory or need converting.
func NewLocalBackend(handle *ModelHandle, tempDir string, log zerolog.Logger) *LocalBackend {
	b := &LocalBackend{handle: handle, speech: DefaultSpeechOptions, tempDir: tempDir, log: log}
	if c, ok := handle.loader.(interface{ Available() bool }); ok {
		b.check = c.Available
	}
	return b
}

func (b *LocalBackend) Name() string { return Local }

func (b *LocalBackend) Available(context.Context) bool {
	return b.check == nil || b.check()
}

func (b *LocalBackend) Transcribe(ctx context.Context, req Request) (Result, error) {
	p := req.LocalPayload()
	if err := ValidatePayload(p, b.log); err != nil {
		return Result{}, err
	}

	path, cleanup, err := b.materialize(p)
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	wavPath, buf, done, err := b.modelInput(ctx, path, p.Ext())
	if err != nil {
		return Result{}, fmt.Errorf("local: %w", err)
	}
	defer done()

	if !DetectSpeech(buf, b.speech) {
		b.log.Debug().Dur("audio", buf.Duration()).Msg("no speech activity; skipping model")
		return Result{Backend: Local, NoSpeech: true}, nil
	}

	size := req.ModelSize
	if size == "" {
		size = "base"
	}
	var text string
	err = b.handle.Use(ctx, size, func(m Model) error {
		var err error
		text, err = m.Transcribe(ctx, wavPath, req.Language)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	return finish(Local, text, nil), nil
}

// modelInput returns a 16 kHz mono WAV for path along with its samples,
// converting through the Decoder when needed.
func (b *LocalBackend) modelInput(ctx context.Context, path, ext string) (string, *audio.Buffer, func(), error) {
	if ext == "wav" {
		buf, err := audio.ReadWAV(path)
		if err == nil && buf.SampleRate == ModelSampleRate && buf.Channels == 1 {
			return path, buf, func() {}, nil
		}
		if err != nil && b.Decoder == nil {
			return "", nil, nil, err
		}
	}
	if b.Decoder == nil {
		return "", nil, nil, fmt.Errorf("%s input needs converting to %d Hz mono WAV and no decoder is set", ext, ModelSampleRate)
	}

	f, err := os.CreateTemp(b.tempDir, "RecordTemp_local_*.wav")
	if err != nil {
		return "", nil, nil, err
	}
	out := f.Name()
	_ = f.Close()
	done := func() { _ = os.Remove(out) }

	if err := b.Decoder.Decode(ctx, path, out, ModelSampleRate, 1); err != nil {
		done()
		return "", nil, nil, err
	}
	buf, err := audio.ReadWAV(out)
	if err != nil {
		done()
		return "", nil, nil, err
	}
	b.log.Debug().Str("from", filepath.Base(path)).Msg("converted payload for local model")
	return out, buf, done, nil
}

func (b *LocalBackend) materialize(p Payload) (string, func(), error) {
	if p.Path != "" {
		return p.Path, func() {}, nil
	}
	f, err := os.CreateTemp(b.tempDir, "RecordTemp_local_*."+p.Ext())
	if err != nil {
		return "", nil, err
	}
	name := f.Name()
	if _, err := f.Write(p.Data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", nil, err
	}
	return name, func() { _ = os.Remove(name) }, nil
}

// WhisperCPPLoader runs the whisper.cpp CLI against ggml model files.
type WhisperCPPLoader struct {
	Binary   string
	ModelDir string
	Threads  int
}

// Available reports whether the CLI is on PATH.
func (l *WhisperCPPLoader) Available() bool {
	_, err := exec.LookPath(l.Binary)
	return err == nil
}

// Load resolves the model file for size. The CLI loads it per invocation.
func (l *WhisperCPPLoader) Load(ctx context.Context, size string) (Model, error) {
	bin, err := exec.LookPath(l.Binary)
	if err != nil {
		return nil, fmt.Errorf("whisper binary %q: %w", l.Binary, err)
	}
	path, err := l.modelPath(size)
	if err != nil {
		return nil, err
	}
	return &whisperCLI{bin: bin, model: path, threads: l.Threads}, nil
}

func (l *WhisperCPPLoader) modelPath(size string) (string, error) {
	exact := filepath.Join(l.ModelDir, "ggml-"+size+".bin")
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}
	// e.g. ggml-large-v3.bin
	matches, _ := filepath.Glob(filepath.Join(l.ModelDir, "ggml-"+size+"*.bin"))
	if len(matches) > 0 {
		return matches[len(matches)-1], nil
	}
	return "", fmt.Errorf("model file %s: %w", exact, os.ErrNotExist)
}

type whisperCLI struct {
	bin     string
	model   string
	threads int
}

func (w *whisperCLI) Transcribe(ctx context.Context, wavPath, language string) (string, error) {
	args := []string{"-m", w.model, "-nt", "-np", "-f", wavPath}
	if language != "" {
		args = append(args, "-l", language)
	}
	if w.threads > 0 {
		args = append(args, "-t", fmt.Sprint(w.threads))
	}
	cmd := exec.CommandContext(ctx, w.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return "", fmt.Errorf("whisper-cli: %w: %s", err, msg)
	}
	return cleanTranscript(stdout.String()), nil
}

func (w *whisperCLI) Close() error { return nil }

// cleanTranscript joins output lines and drops blank-audio markers.
func cleanTranscript(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "[BLANK_AUDIO]", ""))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
