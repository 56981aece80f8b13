// Package pipeline drives one dictation cycle at a time: capture, encode,
// transcribe, correct and inject.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/skquievreux/Speechering/internal/audio"
	"github.com/skquievreux/Speechering/internal/audit"
	"github.com/skquievreux/Speechering/internal/config"
	"github.com/skquievreux/Speechering/internal/correct"
	"github.com/skquievreux/Speechering/internal/inject"
	"github.com/skquievreux/Speechering/internal/notify"
	"github.com/skquievreux/Speechering/internal/record"
	"github.com/skquievreux/Speechering/internal/transcribe"
)

// Capture is an opened recording. *record.Controller implements it.
type Capture interface {
	Start() error
	RequestStop()
	Done() <-chan struct{}
	Finalize() (record.Result, error)
}

// Compressor encodes a WAV file and returns the new file's path.
type Compressor interface {
	Compress(ctx context.Context, wavPath string) (string, error)
}

// Transcriber turns a request into text. *transcribe.Router implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Deps are the collaborators of the orchestrator. Factories receive the
// configuration snapshot taken when the cycle started.
type Deps struct {
	Store *config.Store

	OpenCapture    func(opts record.Options) (Capture, error)
	NewCompressor  func(cfg config.Config) Compressor
	NewTranscriber func(cfg config.Config) (Transcriber, error)
	// NewCorrector may return nil to skip correction.
	NewCorrector func(cfg config.Config) correct.Corrector
	NewInjector  func(cfg config.Config) inject.Injector

	Clipboard inject.Clipboard
	Notifier  notify.Notifier
	Audit     audit.Sink

	// TempDir defaults to config.TempDir.
	TempDir func(cfg config.Config) string
	// OnState, if set, observes every state change.
	OnState func(State)
	Now     func() time.Time
	Log     zerolog.Logger
}

// Orchestrator accepts press/release signals and runs at most one cycle.
type Orchestrator struct {
	deps   Deps
	log    zerolog.Logger
	tracer trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	session   *Session
	lastPress time.Time
	closed    bool
}

// New returns an idle orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TempDir == nil {
		deps.TempDir = func(cfg config.Config) string { return config.TempDir(&cfg) }
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Safe{Log: deps.Log}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:   deps,
		log:    deps.Log,
		tracer: otel.Tracer("github.com/skquievreux/Speechering/internal/pipeline"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.deps.OnState != nil {
		o.deps.OnState(s)
	}
}

// Press starts a cycle. It returns false when a cycle is already running or
// the press falls inside the cooldown after the previous accepted press.
func (o *Orchestrator) Press() bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	if o.state != Idle {
		o.mu.Unlock()
		o.log.Debug().Msg("press ignored; cycle in progress")
		return false
	}
	cfg := o.deps.Store.Load()
	now := o.deps.Now()
	if !o.lastPress.IsZero() && now.Sub(o.lastPress) < cfg.PressCooldown() {
		o.mu.Unlock()
		o.log.Debug().Msg("press ignored; cooldown")
		return false
	}
	o.lastPress = now
	s := newSession(cfg, now)
	s.recording.Store(true)
	o.session = s
	o.state = Capturing
	o.wg.Add(1)
	o.mu.Unlock()

	if o.deps.OnState != nil {
		o.deps.OnState(Capturing)
	}
	go o.run(s)
	return true
}

// Release ends capture for the running cycle. It returns false if nothing is recording.
func (o *Orchestrator) Release() bool {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil || !s.Recording() {
		return false
	}
	s.RequestStop()
	return true
}

// Wait blocks until the running cycle, if any, has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown refuses new presses, stops the running cycle and removes stale
// temp files. If ctx ends first, in-flight work is cancelled.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	s := o.session
	o.mu.Unlock()
	if s != nil {
		s.RequestStop()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// the worker still owns its files; leave them for the next start's sweep
		o.cancel()
		return ctx.Err()
	}
	o.cancel()

	cfg := o.deps.Store.Load()
	if !cfg.KeepCache {
		SweepTemp(o.deps.TempDir(cfg), o.log)
	}
	return nil
}

func (o *Orchestrator) run(s *Session) {
	log := o.log.With().Str("session", s.shortID()).Logger()
	ctx, span := o.tracer.Start(o.ctx, "dictation.cycle", trace.WithAttributes(attribute.String("session", s.ID)))
	c := &cycle{o: o, s: s, cfg: s.Config, log: log}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Str("stack", string(debug.Stack())).Msg("pipeline panicked")
			c.fail(fmt.Errorf("panic: %v", r), MsgUnexpected)
		}
		s.recording.Store(false)
		ReleaseFiles(c.cfg, s.tracked(), c.response, s.Started, log)
		span.End()

		o.mu.Lock()
		o.session = nil
		o.state = Idle
		o.mu.Unlock()
		if o.deps.OnState != nil {
			o.deps.OnState(Idle)
		}
		o.wg.Done()
	}()

	c.execute(ctx)
}

// cycle carries the per-session working data of one run.
type cycle struct {
	o   *Orchestrator
	s   *Session
	cfg config.Config
	log zerolog.Logger

	stage    State
	duration time.Duration
	response []byte
}

func (c *cycle) enter(s State) {
	c.stage = s
	c.o.setState(s)
}

func (c *cycle) audit(status, backend, text string, err error) {
	e := audit.Entry{
		Session:  c.s.ID,
		Status:   status,
		Duration: c.duration,
		Backend:  backend,
		Text:     text,
		Err:      err,
	}
	if err != nil {
		e.Stage = c.stage.String()
	}
	if backend == transcribe.Remote {
		e.Cost = transcribe.EstimateCost(c.duration)
	}
	c.o.deps.Audit.Record(e)
}

// fail moves to Error, tells the user msg and records the detail.
func (c *cycle) fail(err error, msg string) {
	c.log.Error().Err(err).Stringer("stage", c.stage).Msg(msg)
	c.o.setState(Error)
	_ = c.o.deps.Notifier.Notify(msg)
	c.audit("error", "", "", err)
}

func (c *cycle) beep(freq float64) {
	if c.cfg.Beep {
		_ = c.o.deps.Notifier.Beep(freq, notify.BeepLen)
	}
}

func (c *cycle) execute(ctx context.Context) {
	deps := c.o.deps
	c.stage = Capturing

	capture, err := deps.OpenCapture(record.OptionsFrom(c.cfg))
	if err != nil {
		c.fail(err, MsgMicUnavailable)
		return
	}
	if err := capture.Start(); err != nil {
		_, _ = capture.Finalize()
		c.fail(err, MsgMicUnavailable)
		return
	}
	c.log.Info().Msg("recording")
	c.beep(notify.StartFreq)

	backstop := time.NewTimer(c.cfg.MaxDuration() + time.Second)
	select {
	case <-c.s.stop:
	case <-capture.Done():
	case <-backstop.C:
		c.log.Warn().Msg("capture did not stop by itself; forcing stop")
	case <-ctx.Done():
	}
	backstop.Stop()
	c.s.recording.Store(false)

	c.enter(Stopping)
	res, err := capture.Finalize()
	c.beep(notify.StopFreq)
	if err != nil {
		c.fail(err, MsgUnexpected)
		return
	}
	if res.Warning != nil {
		c.log.Warn().Err(res.Warning).Msg("capture ended early; using partial audio")
	}

	c.enter(Encoding)
	c.duration = res.Buffer.Duration()
	if c.duration < c.cfg.MinDuration() {
		c.log.Info().Dur("audio", c.duration).Dur("min", c.cfg.MinDuration()).Msg("recording too short; ignored")
		c.audit("too_short", "", "", nil)
		return
	}
	req, err := c.encode(ctx, res.Buffer)
	if err != nil {
		c.fail(err, MsgUnexpected)
		return
	}

	c.enter(Transcribing)
	tr, err := deps.NewTranscriber(c.cfg)
	if err != nil {
		c.fail(err, MsgRecognitionFailed)
		return
	}
	out, err := tr.Transcribe(ctx, req)
	if err != nil {
		c.fail(err, MsgRecognitionFailed)
		return
	}
	c.response = out.Response
	if out.NoSpeech {
		c.log.Info().Str("backend", out.Backend).Msg("no speech detected")
		c.audit("no_speech", out.Backend, "", nil)
		return
	}

	c.enter(PostProcessing)
	text := c.postProcess(ctx, out.Text)

	c.enter(Injecting)
	if err := deps.NewInjector(c.cfg).Inject(ctx, text); err != nil {
		c.log.Warn().Err(err).Msg("injection failed; copying to clipboard")
		if cerr := deps.Clipboard.WriteAll(text); cerr != nil {
			c.fail(errors.Join(err, cerr), MsgUnexpected)
			return
		}
		_ = deps.Notifier.Notify(MsgClipboardFallback)
		c.audit("clipboard", out.Backend, text, err)
		return
	}
	_ = deps.Notifier.Notify(MsgInserted)
	c.log.Info().Str("backend", out.Backend).Int("chars", len(text)).Dur("audio", c.duration).Msg("dictation complete")
	c.audit("success", out.Backend, text, nil)
}

// encode writes the WAV temp file and, if enabled, a compressed copy.
// Compression failures fall back to the raw audio.
func (c *cycle) encode(ctx context.Context, buf *audio.Buffer) (transcribe.Request, error) {
	dir := c.o.deps.TempDir(c.cfg)
	wavPath := filepath.Join(dir, tempName(c.s, "wav"))
	c.s.track(wavPath)
	if err := audio.WriteWAV(wavPath, buf); err != nil {
		return transcribe.Request{}, err
	}
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return transcribe.Request{}, err
	}
	req := transcribe.Request{
		Raw:       transcribe.Payload{Name: filepath.Base(wavPath), Path: wavPath, Data: data},
		Language:  c.cfg.Language,
		ModelSize: c.cfg.LocalModelSize,
		Preferred: c.cfg.PreferredBackend,
		Duration:  c.duration,
	}

	if c.cfg.Compression == "off" || c.o.deps.NewCompressor == nil {
		return req, nil
	}
	comp := c.o.deps.NewCompressor(c.cfg)
	if comp == nil {
		return req, nil
	}
	out, err := comp.Compress(ctx, wavPath)
	if err != nil {
		c.log.Warn().Err(err).Msg("compression failed; sending raw audio")
		return req, nil
	}
	c.s.track(out)
	req.Compressed = &transcribe.Payload{Name: filepath.Base(out), Path: out}
	req.CompressForLocal = c.cfg.Compression == "always"
	return req, nil
}

// postProcess applies correction and falls back to the raw text on any problem.
func (c *cycle) postProcess(ctx context.Context, text string) string {
	if !c.cfg.Correction || c.o.deps.NewCorrector == nil {
		return text
	}
	corr := c.o.deps.NewCorrector(c.cfg)
	if corr == nil {
		return text
	}
	fixed, err := corr.Correct(ctx, text)
	if err != nil {
		c.log.Warn().Err(err).Msg("correction failed; using raw transcript")
		return text
	}
	if strings.TrimSpace(fixed) == "" {
		return text
	}
	return fixed
}
