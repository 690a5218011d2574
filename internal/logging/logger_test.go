package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func resetState(t *testing.T) {
	t.Helper()
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig = Config{}
	isInitialized = false
	logBuffer = nil
	logCallback = nil
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState(t)
	Initialize(Config{
		Level:   "info",
		Format:  "text",
		Modules: map[string]string{"camera": "debug", "api": "warn"},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"camera", true, true, true},
		{"api", false, false, true},
		{"writer", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			h := GetLogger(tt.module).Handler()
			ctx := context.Background()
			if got := h.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := h.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.wantInfo)
			}
			if got := h.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("Warn enabled = %v, want %v", got, tt.wantWarn)
			}
		})
	}
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	resetState(t)

	before := GetLogger("grabber")
	if before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger created before Initialize should default to info")
	}

	Initialize(Config{Level: "info", Modules: map[string]string{"grabber": "debug"}})

	after := GetLogger("grabber")
	if !after.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger should have debug enabled after Initialize")
	}
	if !before.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("earlier logger should share the updated level")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "info"})

	logger := GetLogger("writer")
	if logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug should start disabled")
	}

	if !SetModuleLevel("writer", "debug") {
		t.Fatal("SetModuleLevel() = false")
	}
	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after SetModuleLevel")
	}
	if SetModuleLevel("writer", "loud") {
		t.Error("SetModuleLevel() accepted an unknown level")
	}
}

func TestBufferAndCallback(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "debug"})

	var mu sync.Mutex
	var got []LogEntry
	SetLogCallback(func(e LogEntry) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	defer SetLogCallback(nil)

	logger := GetLogger("writer").With("device", "/dev/video0")
	logger.Warn("Frame queue full", "dropped", 3, "error", errors.New("boom"), slog.Group("queue", "cap", 256))

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("buffer has %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Module != "writer" || e.Level != "warn" || e.Message != "Frame queue full" {
		t.Errorf("entry = %+v", e)
	}
	if e.Seq != 1 {
		t.Errorf("Seq = %d, want 1", e.Seq)
	}
	want := map[string]any{"device": "/dev/video0", "dropped": int64(3), "error": "boom", "queue.cap": int64(256)}
	for k, v := range want {
		if e.Attributes[k] != v {
			t.Errorf("Attributes[%q] = %#v, want %#v", k, e.Attributes[k], v)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Seq != e.Seq {
		t.Errorf("callback entries = %+v", got)
	}
}

func TestBufferHandlerGroups(t *testing.T) {
	resetState(t)
	Initialize(Config{Level: "info"})

	slog.New(NewBufferHandler(slog.LevelInfo)).
		With("module", "api").
		WithGroup("req").
		With("method", "GET").
		Info("Request", "status", 200)

	entries := GetBuffer().ReadAll()
	if len(entries) != 1 {
		t.Fatalf("buffer has %d entries, want 1", len(entries))
	}
	attrs := entries[0].Attributes
	if attrs["req.method"] != "GET" || attrs["req.status"] != int64(200) {
		t.Errorf("Attributes = %v", attrs)
	}
	if entries[0].Module != "api" {
		t.Errorf("Module = %q, want api", entries[0].Module)
	}
}

func TestRingBufferSince(t *testing.T) {
	rb := NewRingBuffer(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		rb.Write(LogEntry{Message: msg})
	}

	if rb.Count() != 3 || rb.LastSeq() != 5 {
		t.Fatalf("Count/LastSeq = %d/%d, want 3/5", rb.Count(), rb.LastSeq())
	}

	tests := []struct {
		since uint64
		limit int
		want  string
	}{
		{0, 0, "cde"},
		{3, 0, "de"},
		{5, 0, ""},
		{0, 2, "de"},
		{1, 10, "cde"},
	}
	for _, tt := range tests {
		var sb strings.Builder
		for _, e := range rb.Since(tt.since, tt.limit) {
			sb.WriteString(e.Message)
		}
		if sb.String() != tt.want {
			t.Errorf("Since(%d, %d) = %q, want %q", tt.since, tt.limit, sb.String(), tt.want)
		}
	}
}

func TestMultiHandlerFanOut(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	multi := NewMultiHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	logger := slog.New(multi).With("module", "test")

	logger.Debug("debug only")
	logger.Info("both")

	if !strings.Contains(debugBuf.String(), "debug only") || !strings.Contains(debugBuf.String(), "both") {
		t.Errorf("debug handler output = %q", debugBuf.String())
	}
	if strings.Contains(infoBuf.String(), "debug only") || !strings.Contains(infoBuf.String(), "both") {
		t.Errorf("info handler output = %q", infoBuf.String())
	}
}

func TestJournalFields(t *testing.T) {
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "Camera started", 0)
	r.AddAttrs(slog.Int("buffers", 4), slog.Float64("fps", 29.97), slog.Group("fmt", slog.String("fourcc", "YUYV")))

	fields := journalFields([]slog.Attr{slog.String("module", "camera")}, nil, r)

	want := map[string]string{
		"SYSLOG_IDENTIFIER": "framegrabber",
		"MODULE":            "camera",
		"BUFFERS":           "4",
		"FPS":               "29.97",
		"FMT_FOURCC":        "YUYV",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
}

func TestFormatLogLine(t *testing.T) {
	ts := time.Date(2025, 1, 9, 10, 30, 0, 0, time.UTC)
	line := FormatLogLine(LogEntry{
		Timestamp:  ts,
		Level:      "warn",
		Module:     "writer",
		Message:    "Queue full",
		Attributes: map[string]any{"b": 2, "a": "x"},
	})

	want := "2025-01-09T10:30:00Z [WARN] [writer] Queue full a=x b=2"
	if line != want {
		t.Errorf("FormatLogLine() = %q, want %q", line, want)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		isNil bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got := parseLevel(tt.input)
		switch {
		case tt.isNil && got != nil:
			t.Errorf("parseLevel(%q) = %v, want nil", tt.input, *got)
		case !tt.isNil && (got == nil || *got != tt.want):
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
