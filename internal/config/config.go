package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// ErrInvalid is returned for configuration values the pipeline cannot run with.
var ErrInvalid = errors.New("configuration invalid")

// AppName is used for per-user directories and notification titles.
const AppName = "Speechering"

// Config holds configurable parameters.
type Config struct {
	APIEndpoint    string `json:"API_ENDPOINT" validate:"omitempty,url"`
	Token          string `json:"TOKEN"`
	Model          string `json:"MODEL"`
	Language       string `json:"LANGUAGE" validate:"omitempty,max=8"`
	Prompt         string `json:"PROMPT"`
	TEXTPath       string `json:"TEXT_PATH"`
	ExtraConfig    string `json:"ExtraConfig" validate:"omitempty,json"`
	RemoteProvider string `json:"REMOTE_PROVIDER" validate:"oneof=openai http"`
	OpenAIBaseURL  string `json:"OPENAI_BASE_URL" validate:"omitempty,url"`

	PreferredBackend string `json:"PREFERRED_BACKEND" validate:"oneof=local remote"`
	Fallback         bool   `json:"FALLBACK"`
	LocalModelSize   string `json:"LOCAL_MODEL_SIZE" validate:"oneof=tiny base small medium large"`
	WhisperBinary    string `json:"WHISPER_BINARY"`
	ModelDir         string `json:"MODEL_DIR"`

	Channels             int     `json:"CHANNELS" validate:"min=1,max=8"`
	SAMPLING_RATE        int     `json:"SAMPLING_RATE" validate:"gt=0"`
	SAMPLING_RATE_DEPTH  int     `json:"SAMPLING_RATE_DEPTH" validate:"oneof=8 16 24 32"`
	FramesPerBuffer      int     `json:"FRAMES_PER_BUFFER" validate:"min=64,max=16384"`
	InputDeviceName      string  `json:"INPUT_DEVICE_NAME"`
	InputDeviceIndex     int     `json:"INPUT_DEVICE_INDEX" validate:"min=-1"`
	MaxRecordingDuration float64 `json:"MAX_RECORDING_DURATION" validate:"gt=0,lte=300"`
	MinRecordingDuration float64 `json:"MIN_RECORDING_DURATION" validate:"gte=0,ltfield=MaxRecordingDuration"`

	Compression string `json:"COMPRESSION" validate:"oneof=off remote always"`
	BIT_RATE    int    `json:"BIT_RATE" validate:"gt=0"`
	CODECS      string `json:"CODECS"`
	CONTAINER   string `json:"CONTAINER"`

	RequestTimeout int     `json:"REQUEST_TIMEOUT" validate:"gt=0"`
	MaxRetry       int     `json:"MAX_RETRY" validate:"min=1,max=10"`
	RetryBaseDelay float64 `json:"RETRY_BASE_DELAY" validate:"gte=0"`
	EnableHTTP2    bool    `json:"ENABLE_HTTP2"`
	VerifySSL      bool    `json:"VERIFY_SSL"`

	Hotkeys         []string `json:"HOTKEYS" validate:"min=1,dive,required"`
	DebounceMS      int      `json:"DEBOUNCE_MS" validate:"gte=0"`
	PressCooldownMS int      `json:"PRESS_COOLDOWN_MS" validate:"gte=0"`

	Correction       bool   `json:"CORRECTION"`
	CorrectionModel  string `json:"CORRECTION_MODEL"`
	CorrectionPrompt string `json:"CORRECTION_PROMPT"`

	Injection string `json:"INJECTION" validate:"oneof=paste clipboard"`

	CacheDir     string `json:"CACHE_DIR"`
	KeepCache    bool   `json:"KEEP_CACHE"`
	Notification bool   `json:"NOTIFICATION"`
	Beep         bool   `json:"BEEP"`

	LogLevel     string `json:"LOG_LEVEL" validate:"oneof=trace debug info warn error"`
	LogFile      string `json:"LOG_FILE"`
	AuditLog     string `json:"AUDIT_LOG"`
	FFMPEG_DEBUG bool   `json:"FFMPEG_DEBUG"`
	RECORD_DEBUG bool   `json:"RECORD_DEBUG"`
	HOTKEY_DEBUG bool   `json:"HOTKEY_DEBUG"`
	UPLOAD_DEBUG bool   `json:"UPLOAD_DEBUG"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		APIEndpoint:          "",
		Token:                "",
		Model:                "",
		Language:             "de",
		Prompt:               "",
		TEXTPath:             "text",
		ExtraConfig:          "",
		RemoteProvider:       "openai",
		OpenAIBaseURL:        "",
		PreferredBackend:     "remote",
		Fallback:             true,
		LocalModelSize:       "base",
		WhisperBinary:        "whisper-cli",
		ModelDir:             "",
		Channels:             1,
		SAMPLING_RATE:        16000,
		SAMPLING_RATE_DEPTH:  16,
		FramesPerBuffer:      1024,
		InputDeviceName:      "",
		InputDeviceIndex:     -1,
		MaxRecordingDuration: 30,
		MinRecordingDuration: 0.3,
		Compression:          "remote",
		BIT_RATE:             64,
		CODECS:               "opus",
		CONTAINER:            "ogg",
		RequestTimeout:       30,
		MaxRetry:             3,
		RetryBaseDelay:       1.0,
		EnableHTTP2:          true,
		VerifySSL:            true,
		Hotkeys:              []string{"f12", "ctrl+shift+s", "alt+shift+s"},
		DebounceMS:           100,
		PressCooldownMS:      500,
		Correction:           false,
		CorrectionModel:      "gpt-4o-mini",
		CorrectionPrompt:     "",
		Injection:            "paste",
		CacheDir:             "",
		KeepCache:            false,
		Notification:         true,
		Beep:                 true,
		LogLevel:             "info",
		LogFile:              "",
		AuditLog:             "",
		FFMPEG_DEBUG:         false,
		RECORD_DEBUG:         false,
		HOTKEY_DEBUG:         false,
		UPLOAD_DEBUG:         false,
	}
}

// Load loads config from JSON file if provided.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// SaveDefault writes a default config JSON to the provided path.
func SaveDefault(path string) error {
	cfg := DefaultConfig()
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// LoadEnv reads .env files (missing files are ignored) and fills the API token
// from OPENAI_API_KEY or STT_TOKEN when the config leaves it empty.
func LoadEnv(cfg *Config, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if cfg.Token == "" {
		for _, key := range []string{"OPENAI_API_KEY", "STT_TOKEN"} {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				cfg.Token = v
				break
			}
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate verifies config fields and returns an error wrapping ErrInvalid if any value is invalid.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s=%v fails %q", ErrInvalid, fe.Field(), fe.Value(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !allowedCodecs[strings.ToLower(cfg.CODECS)] {
		return fmt.Errorf("%w: CODECS %q (allowed: %s)", ErrInvalid, cfg.CODECS, joinKeys(allowedCodecs))
	}
	if !allowedContainers[strings.ToLower(cfg.CONTAINER)] {
		return fmt.Errorf("%w: CONTAINER %q (allowed: %s)", ErrInvalid, cfg.CONTAINER, joinKeys(allowedContainers))
	}
	if cfg.RemoteProvider == "http" && cfg.APIEndpoint == "" && (cfg.PreferredBackend == "remote" || cfg.Fallback) {
		return fmt.Errorf("%w: API_ENDPOINT is required for REMOTE_PROVIDER=http", ErrInvalid)
	}
	return nil
}

var allowedCodecs = map[string]bool{
	"opus": true, "libopus": true, "aac": true, "mp3": true,
	"flac": true, "pcm": true, "vorbis": true, "libvorbis": true,
	"pcm_s16le": true,
}

var allowedContainers = map[string]bool{
	"wav": true, "ogg": true, "oga": true, "mp3": true, "flac": true,
	"m4a": true, "mp4": true, "opus": true, "webm": true,
}

func joinKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, strings.ToUpper(k))
	}
	slices.Sort(keys)
	return strings.Join(keys, ", ")
}

// InitCacheDir validates/creates the configured cache directory.
// It mutates cfg.CacheDir to an absolute path or clears it on failure.
func InitCacheDir(cfg *Config, log zerolog.Logger) {
	if cfg.CacheDir == "" {
		return
	}
	abs, err := filepath.Abs(cfg.CacheDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.CacheDir).Msg("cache-dir path invalid; using temp dir")
		cfg.CacheDir = ""
		return
	}
	info, err := os.Stat(abs)
	if err == nil {
		if !info.IsDir() {
			log.Warn().Str("dir", abs).Msg("cache-dir exists but is not a directory; using temp dir")
			cfg.CacheDir = ""
			return
		}
		cfg.CacheDir = abs
		log.Info().Str("dir", abs).Msg("using existing cache-dir")
		return
	}
	if os.IsNotExist(err) {
		if err := os.MkdirAll(abs, 0755); err != nil {
			log.Warn().Err(err).Str("dir", abs).Msg("cannot create cache-dir; using temp dir")
			cfg.CacheDir = ""
			return
		}
		cfg.CacheDir = abs
		log.Info().Str("dir", abs).Msg("created cache-dir")
		return
	}
	log.Warn().Err(err).Str("dir", abs).Msg("cannot access cache-dir; using temp dir")
	cfg.CacheDir = ""
}

// TempDir returns the per-user directory for temporary recordings, creating it if needed.
func TempDir(cfg *Config) string {
	if cfg.CacheDir != "" {
		return cfg.CacheDir
	}
	dir := filepath.Join(os.TempDir(), strings.ToLower(AppName))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return os.TempDir()
	}
	return dir
}

// DataDir returns the per-user application directory (audit log, models).
func DataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = os.TempDir()
	}
	return filepath.Join(base, AppName)
}

// ModelDirOrDefault returns MODEL_DIR or DataDir()/models.
func ModelDirOrDefault(cfg *Config) string {
	if cfg.ModelDir != "" {
		return cfg.ModelDir
	}
	return filepath.Join(DataDir(), "models")
}

// AuditPathOrDefault returns AUDIT_LOG or DataDir()/audit.log.
func AuditPathOrDefault(cfg *Config) string {
	if cfg.AuditLog != "" {
		return cfg.AuditLog
	}
	return filepath.Join(DataDir(), "audit.log")
}

// ContainerExt maps container names to file extensions (lowercase).
func ContainerExt(container string) string {
	c := strings.ToLower(strings.TrimSpace(container))
	if c == "" {
		return "ogg"
	}
	return c
}

// MaxDuration returns MAX_RECORDING_DURATION as a time.Duration.
func (c Config) MaxDuration() time.Duration {
	return seconds(c.MaxRecordingDuration)
}

// MinDuration returns MIN_RECORDING_DURATION as a time.Duration.
func (c Config) MinDuration() time.Duration {
	return seconds(c.MinRecordingDuration)
}

// Debounce returns DEBOUNCE_MS as a time.Duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// PressCooldown returns PRESS_COOLDOWN_MS as a time.Duration.
func (c Config) PressCooldown() time.Duration {
	return time.Duration(c.PressCooldownMS) * time.Millisecond
}

// Timeout returns REQUEST_TIMEOUT as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// RetryDelay returns RETRY_BASE_DELAY as a time.Duration.
func (c Config) RetryDelay() time.Duration {
	return seconds(c.RetryBaseDelay)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
