package config

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
)

// Overrides holds flags that were explicitly set on the command line.
// Only set flags are applied on top of the loaded config.
type Overrides struct {
	order   []string
	setters map[string]func(*Config)

	OutputPath    string
	OutputPathSet bool
}

func (o *Overrides) record(name string, apply func(*Config)) {
	if o.setters == nil {
		o.setters = make(map[string]func(*Config))
	}
	if _, seen := o.setters[name]; !seen {
		o.order = append(o.order, name)
	}
	o.setters[name] = apply
}

// valueFlag parses its argument into a config mutation and records it as set.
type valueFlag struct {
	ov    *Overrides
	name  string
	shown string
	parse func(string) (func(*Config), error)
}

func (v *valueFlag) String() string {
	if v == nil {
		return ""
	}
	return v.shown
}

func (v *valueFlag) Set(s string) error {
	apply, err := v.parse(s)
	if err != nil {
		return err
	}
	v.shown = s
	v.ov.record(v.name, apply)
	return nil
}

type outputFlag struct{ ov *Overrides }

func (o *outputFlag) String() string {
	if o == nil || o.ov == nil {
		return ""
	}
	return o.ov.OutputPath
}

func (o *outputFlag) Set(s string) error {
	o.ov.OutputPath = s
	o.ov.OutputPathSet = true
	return nil
}

func parseBoolExt(v string) (bool, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean: %s", v)
}

func stringVar(fs *flag.FlagSet, ov *Overrides, name, usage string, set func(*Config, string)) {
	fs.Var(&valueFlag{ov: ov, name: name, parse: func(s string) (func(*Config), error) {
		return func(c *Config) { set(c, s) }, nil
	}}, name, usage)
}

func intVar(fs *flag.FlagSet, ov *Overrides, name, usage string, set func(*Config, int)) {
	fs.Var(&valueFlag{ov: ov, name: name, parse: func(s string) (func(*Config), error) {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		return func(c *Config) { set(c, n) }, nil
	}}, name, usage)
}

func floatVar(fs *flag.FlagSet, ov *Overrides, name, usage string, set func(*Config, float64)) {
	fs.Var(&valueFlag{ov: ov, name: name, parse: func(s string) (func(*Config), error) {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, err
		}
		return func(c *Config) { set(c, n) }, nil
	}}, name, usage)
}

func boolVar(fs *flag.FlagSet, ov *Overrides, name, usage string, set func(*Config, bool)) {
	fs.Var(&valueFlag{ov: ov, name: name, parse: func(s string) (func(*Config), error) {
		b, err := parseBoolExt(s)
		if err != nil {
			return nil, err
		}
		return func(c *Config) { set(c, b) }, nil
	}}, name, usage)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BindFlags registers all flags and returns the Overrides they populate.
func BindFlags(fs *flag.FlagSet) *Overrides {
	ov := &Overrides{}

	stringVar(fs, ov, "api-endpoint", "HTTP transcription endpoint URL", func(c *Config, v string) { c.APIEndpoint = v })
	stringVar(fs, ov, "token", "API token (falls back to OPENAI_API_KEY / STT_TOKEN)", func(c *Config, v string) { c.Token = v })
	stringVar(fs, ov, "model", "remote transcription model", func(c *Config, v string) { c.Model = v })
	stringVar(fs, ov, "language", "language hint (e.g. de, en)", func(c *Config, v string) { c.Language = v })
	stringVar(fs, ov, "prompt", "transcription prompt", func(c *Config, v string) { c.Prompt = v })
	stringVar(fs, ov, "text-path", "JSON path to extract text", func(c *Config, v string) { c.TEXTPath = v })
	stringVar(fs, ov, "extra-config", "extra JSON config to merge into request payload", func(c *Config, v string) { c.ExtraConfig = v })
	stringVar(fs, ov, "remote-provider", "remote backend: openai or http", func(c *Config, v string) { c.RemoteProvider = strings.ToLower(v) })
	stringVar(fs, ov, "openai-base-url", "override OpenAI-compatible base URL", func(c *Config, v string) { c.OpenAIBaseURL = v })

	stringVar(fs, ov, "backend", "preferred backend: local or remote", func(c *Config, v string) { c.PreferredBackend = strings.ToLower(v) })
	boolVar(fs, ov, "fallback", "fall back to the other backend on failure (true/false)", func(c *Config, v bool) { c.Fallback = v })
	stringVar(fs, ov, "model-size", "local model size: tiny, base, small, medium, large", func(c *Config, v string) { c.LocalModelSize = strings.ToLower(v) })
	stringVar(fs, ov, "whisper-binary", "whisper.cpp CLI executable", func(c *Config, v string) { c.WhisperBinary = v })
	stringVar(fs, ov, "model-dir", "directory holding ggml-<size>.bin models", func(c *Config, v string) { c.ModelDir = v })

	intVar(fs, ov, "channels", "channels (int)", func(c *Config, v int) { c.Channels = v })
	intVar(fs, ov, "sampling-rate", "sampling rate (Hz)", func(c *Config, v int) { c.SAMPLING_RATE = v })
	// deprecated alias
	intVar(fs, ov, "rate", "deprecated: rate (Hz), use -sampling-rate", func(c *Config, v int) { c.SAMPLING_RATE = v })
	intVar(fs, ov, "sampling-rate-depth", "sampling depth (bits)", func(c *Config, v int) { c.SAMPLING_RATE_DEPTH = v })
	intVar(fs, ov, "frames-per-buffer", "frames per capture read", func(c *Config, v int) { c.FramesPerBuffer = v })
	stringVar(fs, ov, "device", "input device name", func(c *Config, v string) { c.InputDeviceName = v })
	intVar(fs, ov, "device-index", "input device index (-1 = default)", func(c *Config, v int) { c.InputDeviceIndex = v })
	floatVar(fs, ov, "max-duration", "maximum recording duration (seconds)", func(c *Config, v float64) { c.MaxRecordingDuration = v })
	floatVar(fs, ov, "min-duration", "minimum recording duration (seconds)", func(c *Config, v float64) { c.MinRecordingDuration = v })

	stringVar(fs, ov, "compression", "compression: off, remote, always", func(c *Config, v string) { c.Compression = strings.ToLower(v) })
	stringVar(fs, ov, "codecs", "audio codec (e.g. OPUS, AAC, MP3, FLAC)", func(c *Config, v string) { c.CODECS = v })
	stringVar(fs, ov, "container", "audio container (e.g. OGG, MP3, FLAC, M4A)", func(c *Config, v string) { c.CONTAINER = v })
	intVar(fs, ov, "bit-rate", "bit rate (kbps)", func(c *Config, v int) { c.BIT_RATE = v })

	intVar(fs, ov, "request-timeout", "per-attempt request timeout seconds", func(c *Config, v int) { c.RequestTimeout = v })
	intVar(fs, ov, "max-retry", "max attempts per backend", func(c *Config, v int) { c.MaxRetry = v })
	floatVar(fs, ov, "retry-base-delay", "retry base delay seconds (float)", func(c *Config, v float64) { c.RetryBaseDelay = v })
	boolVar(fs, ov, "enable-http2", "enable HTTP/2 (true/false)", func(c *Config, v bool) { c.EnableHTTP2 = v })
	boolVar(fs, ov, "verify-ssl", "verify TLS certificates (true/false)", func(c *Config, v bool) { c.VerifySSL = v })

	stringVar(fs, ov, "hotkeys", "comma-separated push-to-talk hotkey candidates", func(c *Config, v string) { c.Hotkeys = splitList(v) })
	intVar(fs, ov, "debounce-ms", "hotkey debounce window (ms)", func(c *Config, v int) { c.DebounceMS = v })
	intVar(fs, ov, "press-cooldown-ms", "minimum gap between recordings (ms)", func(c *Config, v int) { c.PressCooldownMS = v })

	boolVar(fs, ov, "correction", "enable text correction (true/false)", func(c *Config, v bool) { c.Correction = v })
	stringVar(fs, ov, "correction-model", "chat model used for correction", func(c *Config, v string) { c.CorrectionModel = v })
	stringVar(fs, ov, "injection", "injection: paste or clipboard", func(c *Config, v string) { c.Injection = strings.ToLower(v) })

	stringVar(fs, ov, "cache-dir", "cache directory", func(c *Config, v string) { c.CacheDir = v })
	boolVar(fs, ov, "keep-cache", "keep cache files (true/false)", func(c *Config, v bool) { c.KeepCache = v })
	boolVar(fs, ov, "notification", "enable notifications (true/false)", func(c *Config, v bool) { c.Notification = v })
	boolVar(fs, ov, "beep", "beep on start/stop (true/false)", func(c *Config, v bool) { c.Beep = v })

	stringVar(fs, ov, "log-level", "log level: trace, debug, info, warn, error", func(c *Config, v string) { c.LogLevel = strings.ToLower(v) })
	stringVar(fs, ov, "log-file", "also write JSON logs to this file", func(c *Config, v string) { c.LogFile = v })
	stringVar(fs, ov, "audit-log", "transcript audit log path", func(c *Config, v string) { c.AuditLog = v })
	boolVar(fs, ov, "ffmpeg-debug", "enable ffmpeg debug output (true/false)", func(c *Config, v bool) { c.FFMPEG_DEBUG = v })
	boolVar(fs, ov, "record-debug", "enable record debug output (true/false)", func(c *Config, v bool) { c.RECORD_DEBUG = v })
	boolVar(fs, ov, "hotkey-debug", "enable hotkey debug output (true/false)", func(c *Config, v bool) { c.HOTKEY_DEBUG = v })
	boolVar(fs, ov, "upload-debug", "enable upload debug output (true/false)", func(c *Config, v bool) { c.UPLOAD_DEBUG = v })

	fs.Var(&outputFlag{ov}, "output", "output txt path for -file mode")

	return ov
}

// ApplyFlags applies present flags to the config in the order they were first set.
func ApplyFlags(cfg *Config, ov *Overrides) {
	if ov == nil {
		return
	}
	for _, name := range ov.order {
		ov.setters[name](cfg)
	}
}

// AnySet reports whether any flag was explicitly set by the user.
func (ov *Overrides) AnySet() bool {
	return len(ov.order) > 0 || ov.OutputPathSet
}

// IsSet reports whether the named flag was explicitly set.
func (ov *Overrides) IsSet(name string) bool {
	_, ok := ov.setters[name]
	return ok
}
