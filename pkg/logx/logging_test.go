package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriterFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").Named("scanner").With(Int("due", 2))
	log.Info("tick", Duration("took", 1500*time.Millisecond), Err(errors.New("boom")), Err(nil))

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output %q is not JSON: %v", buf.String(), err)
	}
	want := map[string]any{"comp": "scanner", "due": float64(2), "took": "1.5s", "err": "boom", "message": "tick", "level": "info"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s = %v, want %v (line %s)", k, got[k], v, buf.String())
		}
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:N", c)
	}
}

func TestLevelsAndZeroValue(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) || !log.Enabled(LevelError) {
		t.Fatal("Enabled() disagrees with level")
	}

	var zero Logger
	if !zero.IsZero() || zero.Enabled(LevelError) {
		t.Fatal("zero Logger must be a silent no-op")
	}
	zero.Error("dropped")
	if Nop().IsZero() || Nop().Enabled(LevelError) {
		t.Fatal("Nop() must be non-zero and silent")
	}
}

func TestServiceFileOutput(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "wd.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	log.Named("app").Debug("first")

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	log.Info("filtered")
	log.Error("second")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"first"`) || !strings.Contains(lines[1], `"second"`) {
		t.Fatalf("log file = %q", b)
	}
}
