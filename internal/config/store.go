package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Store holds the current configuration snapshot. Readers take a copy at the
// start of a recording cycle; a reload never changes a cycle already running.
type Store struct {
	v atomic.Pointer[Config]
}

// NewStore creates a store holding cfg.
func NewStore(cfg Config) *Store {
	s := &Store{}
	s.Set(cfg)
	return s
}

// Load returns a copy of the current configuration.
func (s *Store) Load() Config {
	c := *s.v.Load()
	c.Hotkeys = append([]string(nil), c.Hotkeys...)
	return c
}

// Set replaces the current configuration.
func (s *Store) Set(cfg Config) {
	c := cfg
	s.v.Store(&c)
}

// ReloadFunc produces a fresh, validated configuration.
type ReloadFunc func() (Config, error)

// Watch reloads the config file at path into store whenever it changes on disk.
// Invalid edits are logged and ignored. It blocks until ctx is done.
func Watch(ctx context.Context, path string, reload ReloadFunc, store *Store, log zerolog.Logger, onChange func(old, cur Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	// editors often replace the file, so watch the directory
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch %s: %w", filepath.Dir(abs), err)
	}
	log.Debug().Str("path", abs).Msg("watching config")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// coalesce bursts of writes from a single save
			pending = time.After(200 * time.Millisecond)
		case <-pending:
			pending = nil
			cur, err := reload()
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("config reload rejected; keeping previous settings")
				continue
			}
			old := store.Load()
			store.Set(cur)
			log.Info().Str("path", abs).Msg("config reloaded")
			if onChange != nil {
				onChange(old, cur)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
