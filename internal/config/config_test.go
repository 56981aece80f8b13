package config

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsUnsupportedModelSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LocalModelSize = "huge"
	err := Validate(&cfg)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidateRejectsFloorAboveCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecordingDuration = 1
	cfg.MinRecordingDuration = 2
	if err := Validate(&cfg); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidateRejectsUnknownCodec(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CODECS = "speex"
	if err := Validate(&cfg); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidateHTTPProviderNeedsEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoteProvider = "http"
	if err := Validate(&cfg); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	cfg.APIEndpoint = "https://stt.example.com/v1/transcribe"
	if err := Validate(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"LOCAL_MODEL_SIZE":"small","HOTKEYS":["f9"],"MAX_RECORDING_DURATION":12}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LocalModelSize != "small" || len(cfg.Hotkeys) != 1 || cfg.Hotkeys[0] != "f9" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MaxDuration() != 12*time.Second {
		t.Fatalf("expected 12s max duration, got %v", cfg.MaxDuration())
	}
	if cfg.SAMPLING_RATE != 16000 {
		t.Fatalf("expected default sampling rate to survive, got %d", cfg.SAMPLING_RATE)
	}
}

func TestApplyFlagsOnlyExplicit(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	ov := BindFlags(fs)
	if err := fs.Parse([]string{"-backend", "LOCAL", "-hotkeys", "f9, ctrl+alt+d", "-max-duration", "10", "-notification", "no"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Language = "en"
	ApplyFlags(&cfg, ov)

	if cfg.PreferredBackend != "local" {
		t.Fatalf("expected local backend, got %q", cfg.PreferredBackend)
	}
	if len(cfg.Hotkeys) != 2 || cfg.Hotkeys[1] != "ctrl+alt+d" {
		t.Fatalf("unexpected hotkeys %v", cfg.Hotkeys)
	}
	if cfg.MaxRecordingDuration != 10 || cfg.Notification {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.Language != "en" {
		t.Fatalf("unset flag overwrote language: %q", cfg.Language)
	}
	if !ov.AnySet() || !ov.IsSet("backend") || ov.IsSet("language") {
		t.Fatalf("unexpected set tracking")
	}
}

func TestBoolFlagRejectsGarbage(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(discard{})
	BindFlags(fs)
	if err := fs.Parse([]string{"-beep", "maybe"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadEnvFillsToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("STT_TOKEN=from-env\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("STT_TOKEN", "")
	os.Unsetenv("STT_TOKEN")

	cfg := DefaultConfig()
	if err := LoadEnv(&cfg, path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if cfg.Token != "from-env" {
		t.Fatalf("expected token from env file, got %q", cfg.Token)
	}

	cfg.Token = "explicit"
	if err := LoadEnv(&cfg, path); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if cfg.Token != "explicit" {
		t.Fatalf("explicit token overwritten: %q", cfg.Token)
	}
}

func TestStoreLoadReturnsCopy(t *testing.T) {
	s := NewStore(DefaultConfig())
	c := s.Load()
	c.Hotkeys[0] = "mutated"
	c.LocalModelSize = "large"
	again := s.Load()
	if again.Hotkeys[0] == "mutated" || again.LocalModelSize == "large" {
		t.Fatalf("store snapshot was mutated through a copy")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"LOCAL_MODEL_SIZE":"base"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewStore(DefaultConfig())
	changed := make(chan Config, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func() (Config, error) {
			cfg, err := Load(path)
			if err != nil {
				return cfg, err
			}
			return cfg, Validate(&cfg)
		}, store, zerolog.Nop(), func(_, cur Config) { changed <- cur })
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(`{"LOCAL_MODEL_SIZE":"small"}`), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cur := <-changed:
		if cur.LocalModelSize != "small" {
			t.Fatalf("expected small, got %q", cur.LocalModelSize)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("config change not observed")
	}
	if store.Load().LocalModelSize != "small" {
		t.Fatalf("store not updated")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch returned error: %v", err)
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
