package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nvandessel/cellsim/internal/simulation"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"Trace", LevelTrace},
		{"warn", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantDebug bool
		wantTrace bool
	}{
		{"info", false, false},
		{"debug", true, false},
		{"trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.level, &buf)

			logger.Debug("debug message")
			logger.Log(context.Background(), LevelTrace, "trace message")
			logger.Info("info message")

			out := buf.String()
			if got := strings.Contains(out, "debug message"); got != tt.wantDebug {
				t.Errorf("debug visible = %v, want %v (out: %q)", got, tt.wantDebug, out)
			}
			if got := strings.Contains(out, "trace message"); got != tt.wantTrace {
				t.Errorf("trace visible = %v, want %v (out: %q)", got, tt.wantTrace, out)
			}
			if !strings.Contains(out, "info message") {
				t.Errorf("info message missing (out: %q)", out)
			}
		})
	}
}

func TestNewLogger_TraceLabel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("trace", &buf)
	logger.Log(context.Background(), LevelTrace, "agent moved")

	if !strings.Contains(buf.String(), "level=TRACE") {
		t.Errorf("expected level=TRACE, got %q", buf.String())
	}
}

func TestNewSimulationLogger_Verbose(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		verbose   bool
		wantDebug bool
	}{
		{"info quiet", "info", false, false},
		{"info verbose", "info", true, true},
		{"debug quiet", "debug", false, true},
		{"trace verbose stays trace", "trace", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewSimulationLogger(tt.level, tt.verbose, &buf).Debug("agent stepped")
			if got := strings.Contains(buf.String(), "agent stepped"); got != tt.wantDebug {
				t.Errorf("debug visible = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func readTrace(t *testing.T, dir string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, TraceFileName))
	if err != nil {
		t.Fatalf("failed to open %s: %v", TraceFileName, err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse JSONL entry %q: %v", sc.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNewTraceLogger_InfoLevel(t *testing.T) {
	dir := t.TempDir()
	tl := NewTraceLogger(dir, "info")
	if tl != nil {
		t.Error("expected nil TraceLogger at info level")
	}

	tl.Log(map[string]any{"event": "ignored"})
	if tl.Events() != 0 {
		t.Errorf("nil logger Events() = %d, want 0", tl.Events())
	}

	if _, err := os.Stat(filepath.Join(dir, TraceFileName)); err == nil {
		t.Error("trace.jsonl should not exist at info level")
	}
}

func TestTraceLogger_WritesEvents(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "run")
	tl := NewTraceLogger(dir, "debug")
	if tl == nil {
		t.Fatal("expected non-nil TraceLogger at debug level")
	}

	event := map[string]any{"event": "agent_step", "agent_id": 3, "time": 7}
	tl.Log(event)
	tl.Log(map[string]any{"event": "agent_step", "agent_id": 4, "time": 7})
	tl.Close()

	if _, ok := event["logged_at"]; ok {
		t.Error("Log() should not mutate the caller's map")
	}
	if tl.Events() != 2 {
		t.Errorf("Events() = %d, want 2", tl.Events())
	}

	entries := readTrace(t, dir)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["time"] != float64(7) {
		t.Errorf("time = %v, want the simulated timepoint 7", entries[0]["time"])
	}
	if _, ok := entries[0]["logged_at"]; !ok {
		t.Error("expected 'logged_at' field")
	}
	if entries[1]["agent_id"] != float64(4) {
		t.Errorf("agent_id = %v, want 4", entries[1]["agent_id"])
	}

	info, err := os.Stat(filepath.Join(dir, TraceFileName))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permissions = %o, want 0600", perm)
	}
}

func TestTraceLogger_NilAndClosed(t *testing.T) {
	var nilLogger *TraceLogger
	nilLogger.Log(map[string]any{"event": "should_not_panic"})
	nilLogger.Close()

	tl := NewTraceLogger(t.TempDir(), "trace")
	tl.Close()
	tl.Log(map[string]any{"event": "after_close"})
	tl.Close()
	if tl.Events() != 0 {
		t.Errorf("Events() after close = %d, want 0", tl.Events())
	}
}

func TestTraceLogger_Concurrent(t *testing.T) {
	dir := t.TempDir()
	tl := NewTraceLogger(dir, "debug")
	defer tl.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tl.Log(map[string]any{"event": "agent_step", "agent_id": i*100 + j})
			}
		}(i)
	}
	wg.Wait()

	if got := len(readTrace(t, dir)); got != 200 {
		t.Errorf("expected 200 entries, got %d", got)
	}
}

func TestTraceLogger_RecordsSimulation(t *testing.T) {
	dir := t.TempDir()
	tl := NewTraceLogger(dir, "debug")

	cfg := simulation.DefaultConfig()
	cfg.Seed = 5
	sim, err := simulation.New(cfg, simulation.WithTrace(tl))
	if err != nil {
		t.Fatalf("simulation.New() error = %v", err)
	}
	if _, err := simulation.Run(context.Background(), sim, nil, simulation.RunOptions{InitialCells: 2, Timepoints: 3}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	tl.Close()

	entries := readTrace(t, dir)
	if len(entries) < 6 {
		t.Fatalf("expected at least one event per agent and step, got %d", len(entries))
	}
	for _, e := range entries {
		if e["event"] != "agent_step" {
			t.Errorf("unexpected event %v", e["event"])
		}
	}
}
