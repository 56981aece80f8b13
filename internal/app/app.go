// Package app wires configuration, capture, recognition and injection into
// the dictation and file run modes.
package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"

	"github.com/skquievreux/Speechering/internal/audio"
	"github.com/skquievreux/Speechering/internal/audio/ffmpeg"
	"github.com/skquievreux/Speechering/internal/audit"
	"github.com/skquievreux/Speechering/internal/config"
	"github.com/skquievreux/Speechering/internal/correct"
	"github.com/skquievreux/Speechering/internal/hotkey"
	"github.com/skquievreux/Speechering/internal/inject"
	"github.com/skquievreux/Speechering/internal/logging"
	"github.com/skquievreux/Speechering/internal/notify"
	"github.com/skquievreux/Speechering/internal/pipeline"
	"github.com/skquievreux/Speechering/internal/record"
	"github.com/skquievreux/Speechering/internal/transcribe"
)

const shutdownGrace = 10 * time.Second

// Options carry what the run modes need besides the configuration.
type Options struct {
	// ConfigPath is watched for changes when Reload is set.
	ConfigPath string
	Reload     config.ReloadFunc
	Log        zerolog.Logger
}

// components are built once per process and shared by every cycle.
type components struct {
	http   *http.Client
	loader *transcribe.WhisperCPPLoader
	handle *transcribe.ModelHandle
	paster inject.Keystroker
	log    zerolog.Logger
}

func newComponents(cfg config.Config, log zerolog.Logger) *components {
	loader := &transcribe.WhisperCPPLoader{
		Binary:   cfg.WhisperBinary,
		ModelDir: config.ModelDirOrDefault(&cfg),
	}
	return &components{
		http:   newHTTPClient(cfg),
		loader: loader,
		handle: transcribe.NewModelHandle(loader, logging.Component(log, logging.Model, false)),
		log:    log,
	}
}

func (c *components) transcriber(cfg config.Config) (pipeline.Transcriber, error) {
	upLog := logging.Component(c.log, logging.Upload, cfg.UPLOAD_DEBUG)
	var remote transcribe.Backend
	if cfg.RemoteProvider == "http" {
		b, err := transcribe.NewHTTPBackend(cfg, c.http, upLog)
		if err != nil {
			return nil, err
		}
		remote = b
	} else {
		remote = transcribe.NewOpenAIBackend(cfg, c.http, upLog)
	}
	local := transcribe.NewLocalBackend(c.handle, config.TempDir(&cfg), logging.Component(c.log, logging.Model, false))
	local.Decoder = ffmpeg.New(cfg, logging.Component(c.log, logging.FFmpeg, cfg.FFMPEG_DEBUG))
	return transcribe.NewRouter(transcribe.PreferredFirst{Fallback: cfg.Fallback}, c.log, remote, local), nil
}

func (c *components) corrector(cfg config.Config) correct.Corrector {
	if !cfg.Correction {
		return nil
	}
	return correct.NewOpenAICorrector(cfg, c.http, logging.Component(c.log, logging.Upload, cfg.UPLOAD_DEBUG))
}

func (c *components) compressor(cfg config.Config) pipeline.Compressor {
	ff := ffmpeg.New(cfg, logging.Component(c.log, logging.FFmpeg, cfg.FFMPEG_DEBUG))
	if !ff.Available() {
		c.log.Warn().Msg("ffmpeg not found; sending uncompressed audio")
		return nil
	}
	return ff
}

func (c *components) injector(cfg config.Config) inject.Injector {
	clip := inject.SystemClipboard{}
	if cfg.Injection == "clipboard" || c.paster == nil {
		return inject.ClipboardInjector{Clip: clip}
	}
	return inject.NewPasteInjector(clip, c.paster, logging.Component(c.log, logging.Inject, false))
}

// RunDictationMode binds the hotkeys and runs dictation cycles until ctx ends.
func RunDictationMode(ctx context.Context, store *config.Store, opts Options) error {
	cfg := store.Load()
	log := opts.Log
	c := newComponents(cfg, log)
	defer c.handle.Close()

	pipeline.SweepTemp(config.TempDir(&cfg), log)

	if paster, err := inject.NewKeyPaster(); err != nil {
		log.Warn().Err(err).Msg("virtual keyboard unavailable; transcripts go to the clipboard")
	} else {
		c.paster = paster
	}

	sink, closeAudit := openAudit(cfg, log)
	defer closeAudit()

	recLog := logging.Component(log, logging.Record, cfg.RECORD_DEBUG)
	src := audio.NewPortAudioSource(recLog)
	if devs, err := src.Devices(); err != nil {
		recLog.Warn().Err(err).Msg("cannot list input devices")
	} else {
		names := make([]string, 0, len(devs))
		for _, d := range devs {
			names = append(names, fmt.Sprintf("%d:%s", d.Index, d.Name))
		}
		recLog.Info().Strs("inputs", names).Msg("input devices")
	}

	orch := pipeline.New(pipeline.Deps{
		Store: store,
		OpenCapture: func(o record.Options) (pipeline.Capture, error) {
			ctrl, err := record.Open(src, o, recLog)
			if err != nil {
				return nil, err
			}
			return ctrl, nil
		},
		NewCompressor:  c.compressor,
		NewTranscriber: c.transcriber,
		NewCorrector:   c.corrector,
		NewInjector:    c.injector,
		Clipboard:      inject.SystemClipboard{},
		Notifier: notify.Safe{
			N:   notify.Desktop{Title: config.AppName, Enabled: cfg.Notification, BeepEnabled: cfg.Beep},
			Log: log,
		},
		Audit: sink,
		Log:   logging.Component(log, logging.Pipeline, false),
	})

	if (cfg.PreferredBackend == transcribe.Local || cfg.Fallback) && c.loader.Available() {
		go func() {
			if err := c.handle.Reload(ctx, cfg.LocalModelSize); err != nil {
				log.Warn().Err(err).Msg("local model preload failed")
			}
		}()
	}

	hkLog := logging.Component(log, logging.Hotkey, cfg.HOTKEY_DEBUG)
	gate := hotkey.NewGate(hotkey.NewOSBinder(hkLog), cfg.Debounce(), hkLog)
	press := func() { orch.Press() }
	release := func() { orch.Release() }
	if err := gate.Register(cfg.Hotkeys, press, release); err != nil {
		return err
	}
	defer gate.UnregisterAll()

	if opts.ConfigPath != "" && opts.Reload != nil {
		go func() {
			err := config.Watch(ctx, opts.ConfigPath, opts.Reload, store, log, func(old, cur config.Config) {
				applyChange(ctx, c, gate, press, release, old, cur)
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	log.Info().Strs("hotkeys", gate.Bound()).Str("backend", cfg.PreferredBackend).Msg("ready; hold a hotkey to dictate")
	<-ctx.Done()

	log.Info().Msg("shutting down")
	gate.UnregisterAll()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := orch.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("dictation cycle did not finish in time")
	}
	return nil
}

// applyChange reacts to a reloaded config. Everything read per cycle is
// already picked up through the store.
func applyChange(ctx context.Context, c *components, gate *hotkey.Gate, press, release func(), old, cur config.Config) {
	log := c.log
	if cur.LocalModelSize != old.LocalModelSize && c.handle.Info().Loaded {
		go func() {
			if err := c.handle.Reload(ctx, cur.LocalModelSize); err != nil {
				log.Warn().Err(err).Str("size", cur.LocalModelSize).Msg("model reload failed")
			}
		}()
	}
	if !slices.Equal(old.Hotkeys, cur.Hotkeys) {
		if err := gate.Register(cur.Hotkeys, press, release); err != nil {
			log.Warn().Err(err).Msg("new hotkeys could not be bound; restoring previous")
			if err := gate.Register(old.Hotkeys, press, release); err != nil {
				log.Error().Err(err).Msg("previous hotkeys could not be restored")
			}
		} else {
			log.Info().Strs("hotkeys", gate.Bound()).Msg("hotkeys rebound")
		}
	}
	if fields := restartOnly(old, cur); len(fields) > 0 {
		log.Warn().Strs("fields", fields).Msg("changes take effect after restart")
	}
}

// restartOnly lists changed settings that are fixed at startup.
func restartOnly(old, cur config.Config) []string {
	var out []string
	check := func(name string, changed bool) {
		if changed {
			out = append(out, name)
		}
	}
	check("DEBOUNCE_MS", old.DebounceMS != cur.DebounceMS)
	check("WHISPER_BINARY", old.WhisperBinary != cur.WhisperBinary)
	check("MODEL_DIR", old.ModelDir != cur.ModelDir)
	check("VERIFY_SSL", old.VerifySSL != cur.VerifySSL)
	check("ENABLE_HTTP2", old.EnableHTTP2 != cur.EnableHTTP2)
	check("LOG_LEVEL", old.LogLevel != cur.LogLevel)
	check("LOG_FILE", old.LogFile != cur.LogFile)
	check("AUDIT_LOG", old.AuditLog != cur.AuditLog)
	check("NOTIFICATION", old.Notification != cur.Notification)
	return out
}

func openAudit(cfg config.Config, log zerolog.Logger) (audit.Sink, func()) {
	path := config.AuditPathOrDefault(&cfg)
	sink, err := audit.OpenFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("audit log disabled")
		return audit.Nop{}, func() {}
	}
	log.Debug().Str("path", path).Msg("audit log")
	return sink, func() { _ = sink.Close() }
}

// RunFileMode transcribes an existing audio file and writes the text next to
// outputPath (default: <input base>.txt in the working directory).
func RunFileMode(ctx context.Context, cfg config.Config, inputPath, outputPath string, log zerolog.Logger) error {
	if _, err := os.Stat(inputPath); err != nil {
		return fmt.Errorf("file '%s' stat failed: %w", inputPath, err)
	}
	c := newComponents(cfg, log)
	defer c.handle.Close()

	tempDir := config.TempDir(&cfg)
	pipeline.SweepTemp(tempDir, log)

	ff := ffmpeg.New(cfg, logging.Component(log, logging.FFmpeg, cfg.FFMPEG_DEBUG))
	wavPath := filepath.Join(tempDir, pipeline.TempPrefix+"file_"+uuid.NewString()[:8]+".wav")
	files := []string{wavPath}
	var response []byte
	defer func() {
		pipeline.ReleaseFiles(cfg, files, response, time.Now(), log)
	}()

	if err := ff.Decode(ctx, inputPath, wavPath, cfg.SAMPLING_RATE, cfg.Channels); err != nil {
		return err
	}
	buf, err := audio.ReadWAV(wavPath)
	if err != nil {
		return err
	}
	req := transcribe.Request{
		Raw:       transcribe.Payload{Name: filepath.Base(wavPath), Path: wavPath},
		Language:  cfg.Language,
		ModelSize: cfg.LocalModelSize,
		Preferred: cfg.PreferredBackend,
		Duration:  buf.Duration(),
	}
	if cfg.Compression != "off" {
		out, err := ff.Compress(ctx, wavPath)
		if err != nil {
			log.Warn().Err(err).Msg("compression failed; sending raw audio")
		} else {
			files = append(files, out)
			req.Compressed = &transcribe.Payload{Name: filepath.Base(out), Path: out}
			req.CompressForLocal = cfg.Compression == "always"
		}
	}

	tr, err := c.transcriber(cfg)
	if err != nil {
		return err
	}
	res, err := tr.Transcribe(ctx, req)
	if err != nil {
		return err
	}
	response = res.Response

	text := res.Text
	if res.NoSpeech {
		log.Warn().Str("input", inputPath).Msg("no speech detected")
	} else if corr := c.corrector(cfg); corr != nil {
		fixed, err := corr.Correct(ctx, text)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("correction failed; using raw transcript")
		case strings.TrimSpace(fixed) != "":
			text = fixed
		}
	}

	outPath := outputPath
	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		outPath = filepath.Join(".", base+".txt")
	}
	if err := os.WriteFile(outPath, []byte(text), 0644); err != nil {
		return err
	}
	log.Info().Str("output", outPath).Str("backend", res.Backend).Dur("audio", req.Duration).Msg("transcript written")
	return nil
}

func newHTTPClient(cfg config.Config) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if !cfg.VerifySSL {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.EnableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	// per-attempt deadlines come from the retry policy
	return &http.Client{Transport: tr}
}
