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

	"github.com/rs/zerolog"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestFileSinkFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "logs", "wknotifier.log")
	svc, log := newService(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}}, &bytes.Buffer{})

	log.With(String("comp", "poll")).Info("cycle done",
		Int("lessons", 3), Duration("delay", 10*time.Minute), Err(errors.New("boom")))
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("lines = %v", lines)
	}
	m := lines[0]
	if m["comp"] != "poll" || m["message"] != "cycle done" || m["level"] != "info" {
		t.Fatalf("unexpected fields: %v", m)
	}
	if m["lessons"] != float64(3) || m["delay"] != "10m0s" || m["err"] != "boom" {
		t.Fatalf("unexpected values: %v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller = %q", c)
	}
}

func TestApplySwitchesLevelAndKeepsFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.log")
	cfg := Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}}
	svc, log := newService(cfg, &bytes.Buffer{})
	derived := log.With(String("comp", "app"))

	derived.Info("hidden")
	derived.Warn("before reload")
	svc.mu.Lock()
	f := svc.file
	svc.mu.Unlock()

	cfg.Level = "debug"
	svc.Apply(cfg)
	svc.mu.Lock()
	same := svc.file == f
	svc.mu.Unlock()
	if !same {
		t.Fatal("unchanged path should keep the open file")
	}
	derived.Debug("after reload")
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	derived.Error("after close")

	var msgs []string
	for _, m := range readLines(t, path) {
		msgs = append(msgs, m["message"].(string))
	}
	if got := strings.Join(msgs, ","); got != "before reload,after reload" {
		t.Fatalf("messages = %q", got)
	}
}

func TestConsoleFallback(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	bad := filepath.Join(t.TempDir(), "missing-file-parent")
	if err := os.WriteFile(bad, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no sinks", cfg: Config{}},
		{name: "unopenable file", cfg: Config{File: FileConfig{Enabled: true, Path: filepath.Join(bad, "x.log")}}},
	}
	for _, tt := range tests {
		buf.Reset()
		svc, log := newService(tt.cfg, &buf)
		log.Info("still visible")
		_ = svc.Close()
		if !strings.Contains(buf.String(), "still visible") {
			t.Fatalf("%s: console output = %q", tt.name, buf.String())
		}
	}
}

func TestZeroLoggerDiscards(t *testing.T) {
	t.Parallel()
	var zero Logger
	zero.Error("dropped", String("k", "v"))
	Nop().With(Bool("ok", true)).Warn("dropped")
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
