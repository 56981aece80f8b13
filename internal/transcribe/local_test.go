package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/audio"
)

type fakeModel struct {
	size   string
	text   string
	err    error
	closed bool
	calls  int
	paths  []string
}

func (m *fakeModel) Transcribe(_ context.Context, wavPath, _ string) (string, error) {
	m.calls++
	m.paths = append(m.paths, wavPath)
	return m.text, m.err
}

func (m *fakeModel) Close() error {
	m.closed = true
	return nil
}

type fakeLoader struct {
	failures int
	text     string
	loaded   []*fakeModel
	attempts int
}

func (l *fakeLoader) Load(_ context.Context, size string) (Model, error) {
	l.attempts++
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("model file missing")
	}
	m := &fakeModel{size: size, text: l.text}
	l.loaded = append(l.loaded, m)
	return m, nil
}

func toneBuffer(d time.Duration, amp int16) *audio.Buffer {
	b := audio.NewBuffer(16000, 1)
	n := int(d.Seconds() * 16000)
	pcm := make([]int16, n)
	for i := range pcm {
		if (i/16)%2 == 0 {
			pcm[i] = amp
		} else {
			pcm[i] = -amp
		}
	}
	b.Append(pcm)
	return b
}

func writeTone(t *testing.T, d time.Duration, amp int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "RecordTemp_test.wav")
	if err := audio.WriteWAV(path, toneBuffer(d, amp)); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return path
}

func TestDetectSpeech(t *testing.T) {
	if DetectSpeech(toneBuffer(time.Second, 0), DefaultSpeechOptions) {
		t.Fatalf("silence detected as speech")
	}
	if !DetectSpeech(toneBuffer(time.Second, 8000), DefaultSpeechOptions) {
		t.Fatalf("tone not detected")
	}
	if DetectSpeech(toneBuffer(200*time.Millisecond, 8000), DefaultSpeechOptions) {
		t.Fatalf("200ms burst should be below the voiced minimum")
	}
	if DetectSpeech(toneBuffer(time.Second, 100), DefaultSpeechOptions) {
		t.Fatalf("low noise floor detected as speech")
	}
}

func TestModelHandleReloadsOnSizeChange(t *testing.T) {
	loader := &fakeLoader{text: "x"}
	h := NewModelHandle(loader, zerolog.Nop())
	use := func(size string) {
		if err := h.Use(context.Background(), size, func(Model) error { return nil }); err != nil {
			t.Fatalf("Use(%s): %v", size, err)
		}
	}
	use("base")
	use("base")
	if loader.attempts != 1 {
		t.Fatalf("expected one load, got %d", loader.attempts)
	}
	use("small")
	if loader.attempts != 2 || !loader.loaded[0].closed {
		t.Fatalf("expected reload with previous model closed")
	}
	info := h.Info()
	if !info.Loaded || info.Size != "small" || info.Loads != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
	if err := h.Close(); err != nil || !loader.loaded[1].closed || h.Info().Loaded {
		t.Fatalf("Close did not release model")
	}
}

func TestModelHandleDoesNotCacheFailure(t *testing.T) {
	loader := &fakeLoader{failures: 1, text: "x"}
	h := NewModelHandle(loader, zerolog.Nop())
	err := h.Reload(context.Background(), "base")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
	if err := h.Reload(context.Background(), "base"); err != nil {
		t.Fatalf("second load should retry: %v", err)
	}
}

func TestLocalBackendSkipsModelOnSilence(t *testing.T) {
	loader := &fakeLoader{text: "should not run"}
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), t.TempDir(), zerolog.Nop())
	res, err := b.Transcribe(context.Background(), Request{Raw: Payload{Path: writeTone(t, time.Second, 0)}, ModelSize: "base"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.NoSpeech || res.Backend != Local {
		t.Fatalf("expected no-speech result, got %+v", res)
	}
	if loader.attempts != 0 {
		t.Fatalf("model loaded for silent audio")
	}
}

func TestLocalBackendTranscribesInMemoryPayload(t *testing.T) {
	loader := &fakeLoader{text: "  test transcript "}
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), t.TempDir(), zerolog.Nop())
	data, err := os.ReadFile(writeTone(t, time.Second, 8000))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	res, err := b.Transcribe(context.Background(), Request{Raw: Payload{Name: "rec.wav", Data: data}, ModelSize: "tiny", Language: "de"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "test transcript" || res.NoSpeech {
		t.Fatalf("unexpected result %+v", res)
	}
	if loader.loaded[0].size != "tiny" || loader.loaded[0].calls != 1 {
		t.Fatalf("model not used as expected")
	}
}

func TestCleanTranscript(t *testing.T) {
	got := cleanTranscript("\n [BLANK_AUDIO]\n Hallo\n  Welt  \n")
	if got != "Hallo Welt" {
		t.Fatalf("got %q", got)
	}
	if cleanTranscript("[BLANK_AUDIO]\n") != "" {
		t.Fatalf("blank marker not stripped")
	}
}

func TestWhisperLoaderMissingModel(t *testing.T) {
	l := &WhisperCPPLoader{Binary: "definitely-not-a-whisper-binary", ModelDir: t.TempDir()}
	if l.Available() {
		t.Fatalf("unexpected binary on PATH")
	}
	if _, err := l.Load(context.Background(), "base"); err == nil {
		t.Fatalf("expected load error")
	}
	if _, err := l.modelPath("base"); err == nil {
		t.Fatalf("expected missing model error")
	}
}

// fakeDecoder writes a tone (or silence) WAV in place of a real conversion.
type fakeDecoder struct {
	amp   int16
	calls int
	rate  int
	ch    int
	in    string
}

func (d *fakeDecoder) Decode(_ context.Context, inPath, outPath string, rate, channels int) error {
	d.calls++
	d.in, d.rate, d.ch = inPath, rate, channels
	return audio.WriteWAV(outPath, toneBuffer(time.Second, d.amp))
}

func TestLocalBackendConvertsCompressedPayload(t *testing.T) {
	dir := t.TempDir()
	ogg := filepath.Join(dir, "RecordTemp_test.ogg")
	if err := os.WriteFile(ogg, []byte("OggS not really"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader := &fakeLoader{text: "umgewandelt"}
	tmp := t.TempDir()
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), tmp, zerolog.Nop())
	dec := &fakeDecoder{amp: 8000}
	b.Decoder = dec

	req := Request{
		Raw:              Payload{Path: writeTone(t, time.Second, 8000)},
		Compressed:       &Payload{Path: ogg},
		CompressForLocal: true,
		ModelSize:        "base",
	}
	res, err := b.Transcribe(context.Background(), req)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "umgewandelt" {
		t.Fatalf("unexpected result %+v", res)
	}
	if dec.calls != 1 || dec.in != ogg || dec.rate != ModelSampleRate || dec.ch != 1 {
		t.Fatalf("unexpected decode call %+v", dec)
	}
	got := loader.loaded[0].paths[0]
	if filepath.Ext(got) != ".wav" || got == ogg {
		t.Fatalf("model was handed %q", got)
	}
	if left, _ := os.ReadDir(tmp); len(left) != 0 {
		t.Fatalf("converted file left behind: %v", left)
	}
}

func TestLocalBackendResamplesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "RecordTemp_44k.wav")
	buf := audio.NewBuffer(44100, 2)
	pcm := make([]int16, 44100*2)
	for i := range pcm {
		pcm[i] = int16(4000 * ((i/32)%2*2 - 1))
	}
	buf.Append(pcm)
	if err := audio.WriteWAV(path, buf); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	loader := &fakeLoader{text: "ok"}
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), t.TempDir(), zerolog.Nop())
	dec := &fakeDecoder{amp: 8000}
	b.Decoder = dec

	if _, err := b.Transcribe(context.Background(), Request{Raw: Payload{Path: path}}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if dec.calls != 1 {
		t.Fatalf("44.1 kHz stereo input was not converted")
	}
	if loader.loaded[0].paths[0] == path {
		t.Fatalf("model got the unconverted file")
	}
}

func TestLocalBackendSkipsDecoderForModelRateWAV(t *testing.T) {
	loader := &fakeLoader{text: "ok"}
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), t.TempDir(), zerolog.Nop())
	dec := &fakeDecoder{amp: 8000}
	b.Decoder = dec
	path := writeTone(t, time.Second, 8000)

	if _, err := b.Transcribe(context.Background(), Request{Raw: Payload{Path: path}}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if dec.calls != 0 || loader.loaded[0].paths[0] != path {
		t.Fatalf("16 kHz mono WAV should go to the model as is")
	}
}

func TestLocalBackendChecksSpeechAfterConversion(t *testing.T) {
	ogg := filepath.Join(t.TempDir(), "RecordTemp_quiet.ogg")
	if err := os.WriteFile(ogg, []byte("OggS"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader := &fakeLoader{text: "should not run"}
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), t.TempDir(), zerolog.Nop())
	b.Decoder = &fakeDecoder{amp: 0}

	res, err := b.Transcribe(context.Background(), Request{Raw: Payload{Path: ogg}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if !res.NoSpeech || loader.attempts != 0 {
		t.Fatalf("silent converted audio reached the model: %+v", res)
	}
}

func TestLocalBackendRejectsCompressedWithoutDecoder(t *testing.T) {
	ogg := filepath.Join(t.TempDir(), "RecordTemp_test.ogg")
	if err := os.WriteFile(ogg, []byte("OggS"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader := &fakeLoader{text: "x"}
	b := NewLocalBackend(NewModelHandle(loader, zerolog.Nop()), t.TempDir(), zerolog.Nop())

	if _, err := b.Transcribe(context.Background(), Request{Raw: Payload{Path: ogg}}); err == nil {
		t.Fatalf("expected an error for ogg input without a decoder")
	}
	if loader.attempts != 0 {
		t.Fatalf("model loaded for unreadable input")
	}
}
