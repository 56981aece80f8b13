package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/skquievreux/Speechering/internal/config"
)

// TempPrefix marks files the pipeline owns in the temp directory.
const TempPrefix = "RecordTemp_"

// SweepTemp removes leftover RecordTemp_ files in dir and returns how many were removed.
func SweepTemp(dir string, log zerolog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Debug().Err(err).Str("dir", dir).Msg("temp sweep skipped")
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("failed to remove temp file")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("files", n).Str("dir", dir).Msg("removed stale temp files")
	}
	return n
}

func tempName(s *Session, ext string) string {
	return TempPrefix + s.Started.Format("20060102_150405") + "_" + s.shortID() + "." + ext
}

// ReleaseFiles deletes the cycle's files, or moves them into CACHE_DIR with the
// raw service response when KEEP_CACHE is set.
func ReleaseFiles(cfg config.Config, files []string, response []byte, at time.Time, log zerolog.Logger) {
	if !cfg.KeepCache || cfg.CacheDir == "" {
		for _, f := range files {
			if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
				log.Debug().Err(err).Str("file", f).Msg("temp file removal failed")
			}
		}
		return
	}

	base := "audio-" + at.Format("2006-01-02-15.04.05")
	for _, f := range files {
		dst := filepath.Join(cfg.CacheDir, base+filepath.Ext(f))
		if err := os.Rename(f, dst); err != nil {
			log.Warn().Err(err).Str("file", dst).Msg("failed to move recording into cache")
			_ = os.Remove(f)
		}
	}
	if len(response) > 0 {
		dst := filepath.Join(cfg.CacheDir, base+".json")
		if err := os.WriteFile(dst, response, 0644); err != nil {
			log.Warn().Err(err).Str("file", dst).Msg("failed to write response into cache")
		}
	}
}
