package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "discovery"))
	log.Debug("hidden")
	log.Info("cycle completed", Int64("to", 13), Err(nil), Err(errors.New("boom")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["comp"] != "discovery" || got["to"] != float64(13) || got["message"] != "cycle completed" {
		t.Fatalf("unexpected event: %v", got)
	}
	if got["error"] != "boom" && got["err"] != "boom" {
		t.Fatalf("missing error field: %v", got)
	}
	if c, _ := got["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller=%q", c)
	}
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()

	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
	Nop().With(String("k", "v")).Error("dropped")
}

func TestServiceApplySwitchesFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: first}})
	t.Cleanup(func() { _ = svc.Close() })
	log.Debug("to first")

	svc.Apply(Config{Level: "warn", File: FileConfig{Enabled: true, Path: second}})
	log.Info("filtered")
	log.Warn("to second")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if !strings.Contains(string(a), "to first") {
		t.Fatalf("first log missing entry: %q", a)
	}
	if strings.Contains(string(b), "filtered") || !strings.Contains(string(b), "to second") {
		t.Fatalf("second log=%q", b)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	if parseLevel("WARNING", 0).String() != "warn" {
		t.Fatalf("WARNING should map to warn")
	}
	if parseLevel("bogus", parseLevel("error", 0)).String() != "error" {
		t.Fatalf("unknown level should fall back to default")
	}
}
