package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	s.Record(Entry{Session: "a", Status: "success", Duration: 1500 * time.Millisecond, Backend: "remote", Text: "hallo"})
	s.Record(Entry{Session: "b", Status: "error", Stage: "transcribing", Err: errors.New("recognition failed")})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line is not JSON: %s", sc.Text())
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0]["session"] != "a" || lines[0]["text"] != "hallo" || lines[0]["audio_ms"] != float64(1500) {
		t.Fatalf("unexpected first line %v", lines[0])
	}
	if lines[1]["error"] != "recognition failed" || lines[1]["stage"] != "transcribing" {
		t.Fatalf("unexpected second line %v", lines[1])
	}
}
