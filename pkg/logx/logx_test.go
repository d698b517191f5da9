package logx

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]Level{
		"":        LevelInfo,
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"loud":    LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()
	var l Logger
	if !l.IsZero() {
		t.Fatal("zero Logger not IsZero")
	}
	l.With(String("k", "v")).Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop reported zero")
	}
}

func TestServiceApplySwitchesLevelAndFile(t *testing.T) {
	t.Parallel()
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "motorsched.log")

	svc, log := New(Config{Level: "info", Console: true}, WithConsole(&console))
	log = log.With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("shown", Int("steps", 1000))
	if out := console.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("console = %q", out)
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug enabled at info level")
	}

	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	if !log.Enabled(LevelDebug) {
		t.Fatal("Apply did not lower the level")
	}
	log.Debug("to file", String("direction", "clockwise"))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &entry); err != nil {
		t.Fatalf("file line %q: %v", b, err)
	}
	if entry["message"] != "to file" || entry["comp"] != "test" || entry["direction"] != "clockwise" {
		t.Fatalf("entry = %v", entry)
	}
	if c, _ := entry["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %v", entry["caller"])
	}
}
