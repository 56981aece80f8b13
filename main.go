package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.design/x/hotkey/mainthread"

	"github.com/skquievreux/Speechering/internal/app"
	"github.com/skquievreux/Speechering/internal/audio/ffmpeg"
	"github.com/skquievreux/Speechering/internal/config"
	"github.com/skquievreux/Speechering/internal/logging"
)

const defaultConfigPath = "config.json"

func usage() {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `Usage: %s [options]

Hold a hotkey, speak, release: the transcript is typed into the focused window.

Without -config, ./config.json is used. If it does not exist and no other
flag is given, a default config.json is written and the program exits.
With -file, an existing recording is transcribed into a .txt file instead.

Options:
`, name)
	flag.PrintDefaults()
}

func main() {
	var (
		configPath string
		filePath   string
		help       bool
	)
	flag.Usage = usage
	flag.StringVar(&configPath, "config", "", "path to config JSON")
	flag.StringVar(&filePath, "file", "", "transcribe an existing audio file and exit")
	flag.BoolVar(&help, "h", false, "show help")
	flag.BoolVar(&help, "help", false, "show help")
	ov := config.BindFlags(flag.CommandLine)
	flag.Parse()
	if help {
		usage()
		return
	}

	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("component", logging.Main).Logger()

	path, created, err := resolveConfig(configPath, filePath != "" || ov.AnySet())
	if err != nil {
		boot.Fatal().Err(err).Msg("failed to load config")
	}
	if created {
		boot.Info().Str("path", path).Msg("default config created; edit it and re-run")
		return
	}

	reload := func() (config.Config, error) {
		cfg := config.DefaultConfig()
		if path != "" {
			c, err := config.Load(path)
			if err != nil {
				return c, err
			}
			cfg = c
		}
		if err := config.LoadEnv(&cfg); err != nil {
			return cfg, err
		}
		config.ApplyFlags(&cfg, ov)
		config.InitCacheDir(&cfg, boot)
		return cfg, config.Validate(&cfg)
	}
	cfg, err := reload()
	if err != nil {
		boot.Fatal().Err(err).Msg("invalid config")
	}

	log, closer, err := logging.New(cfg)
	if err != nil {
		boot.Fatal().Err(err).Msg("logging setup failed")
	}
	defer closer.Close()
	mainLog := logging.Component(log, logging.Main, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if filePath != "" {
		if err := app.RunFileMode(ctx, cfg, filePath, ov.OutputPath, log); err != nil {
			mainLog.Error().Err(err).Str("file", filePath).Msg("transcription failed")
			closer.Close()
			if errors.Is(err, ffmpeg.ErrEncodingFailure) {
				os.Exit(2)
			}
			os.Exit(3)
		}
		return
	}

	store := config.NewStore(cfg)
	var runErr error
	// hotkey registration on macOS has to happen on the main thread
	mainthread.Init(func() {
		runErr = app.RunDictationMode(ctx, store, app.Options{
			ConfigPath: path,
			Reload:     reload,
			Log:        log,
		})
	})
	if runErr != nil {
		mainLog.Error().Err(runErr).Msg("dictation mode stopped")
		closer.Close()
		os.Exit(1)
	}
}

// resolveConfig picks the config file: the -config path, else ./config.json
// if present, else none when flags were given. With nothing to go on it
// writes a default ./config.json and reports created.
func resolveConfig(flagPath string, haveFlags bool) (path string, created bool, err error) {
	if flagPath != "" {
		return flagPath, false, nil
	}
	_, err = os.Stat(defaultConfigPath)
	switch {
	case err == nil:
		return defaultConfigPath, false, nil
	case !os.IsNotExist(err):
		return "", false, fmt.Errorf("stat %s: %w", defaultConfigPath, err)
	case haveFlags:
		return "", false, nil
	}
	if err := config.SaveDefault(defaultConfigPath); err != nil {
		return "", false, fmt.Errorf("write default config: %w", err)
	}
	return defaultConfigPath, true, nil
}
