// Package logging sets up cellsim's operational log and the agent trace.
//
// Operational messages go to a leveled slog.Logger on stderr. When the
// level is debug or trace, every agent decision is also appended to
// trace.jsonl in the output directory by a TraceLogger.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below slog.LevelDebug and also prints agent decisions.
const LevelTrace = slog.LevelDebug - 4

// TraceFileName is the name of the JSONL decision trace.
const TraceFileName = "trace.jsonl"

var levels = map[string]slog.Level{
	"info":  slog.LevelInfo,
	"debug": slog.LevelDebug,
	"trace": LevelTrace,
}

// ParseLevel maps "info", "debug" or "trace" (any case) to a slog.Level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	if lvl, ok := levels[strings.ToLower(s)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// NewLogger returns a text logger writing to w at the given level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return newLogger(ParseLevel(level), w)
}

// NewSimulationLogger is NewLogger for the simulator. verbose raises an
// info level to debug so per-agent decisions are shown.
func NewSimulationLogger(level string, verbose bool, w io.Writer) *slog.Logger {
	return newLogger(min(ParseLevel(level), levelFor(verbose)), w)
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

func newLogger(lvl slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: nameTrace,
	}))
}

// nameTrace prints LevelTrace as "TRACE" instead of "DEBUG-4".
func nameTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey && a.Value.Any() == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// TraceLogger appends agent decision events to a JSONL file. It is safe
// for concurrent use, and a nil *TraceLogger discards everything.
type TraceLogger struct {
	mu     sync.Mutex
	file   *os.File
	enc    *json.Encoder
	events int
}

// NewTraceLogger opens dir/trace.jsonl for append when level is debug or
// trace. It returns nil at info level or when the file cannot be opened.
func NewTraceLogger(dir string, level string) *TraceLogger {
	if ParseLevel(level) >= slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, TraceFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &TraceLogger{file: f, enc: json.NewEncoder(f)}
}

// Log writes event as one line with an added "logged_at" wall-clock
// field. "time" is left to the caller for the simulated timepoint.
// event itself is not modified.
func (tl *TraceLogger) Log(event map[string]any) {
	if tl == nil {
		return
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["logged_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file == nil {
		return
	}
	if tl.enc.Encode(entry) == nil {
		tl.events++
	}
}

// Events returns the number of events written so far.
func (tl *TraceLogger) Events() int {
	if tl == nil {
		return 0
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.events
}

// Close closes the trace file. Later calls to Log are dropped.
func (tl *TraceLogger) Close() {
	if tl == nil {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.file != nil {
		tl.file.Close()
		tl.file = nil
	}
}
