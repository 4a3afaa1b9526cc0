package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewManager_JSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManager(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	Component(logger, "store").Info("hello", "n", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" || rec["component"] != "store" || rec["n"] != float64(1) {
		t.Errorf("record = %v", rec)
	}
}

func TestNewManager_Text(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManager(Config{Level: "info", Format: "text"}, &buf)
	defer mgr.Close() //nolint:errcheck

	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestManager_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	mgr, logger := NewManager(Config{Level: "info", Format: "json"}, &buf)
	defer mgr.Close() //nolint:errcheck

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("expected debug to be disabled")
	}
	child := Component(logger, "x")
	mgr.SetLevel("debug")
	if !child.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("derived logger did not follow level change")
	}
	if mgr.Level() != "debug" {
		t.Errorf("Level = %q", mgr.Level())
	}
	mgr.SetLevel("error")
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("expected info to be disabled when level is error")
	}
}

func TestManager_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "test.log")
	var console bytes.Buffer
	mgr, logger := NewManager(Config{
		Level:          "info",
		Format:         "json",
		FilePath:       logFile,
		FileMaxSizeMB:  1,
		FileMaxFiles:   1,
		FileMaxAgeDays: 1,
	}, &console)

	logger.Info("hello from test")
	if err := mgr.Close(); err != nil {
		t.Fatalf("closing manager: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte("hello from test")) || console.Len() == 0 {
		t.Errorf("file=%q console=%q", data, console.String())
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	mgr, _ := NewManager(Config{}, &bytes.Buffer{})
	if err := mgr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestValidLevel(t *testing.T) {
	for _, l := range []string{"debug", "info", "warn", "error"} {
		if !ValidLevel(l) {
			t.Errorf("expected %q to be valid", l)
		}
	}
	for _, l := range []string{"", "trace", "fatal", "DEBUG"} {
		if ValidLevel(l) {
			t.Errorf("expected %q to be invalid", l)
		}
	}
}

func TestValidFormat(t *testing.T) {
	if !ValidFormat("text") || !ValidFormat("json") {
		t.Error("text and json should be valid")
	}
	if ValidFormat("xml") || ValidFormat("") {
		t.Error("xml and empty should be invalid")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in  string
		out slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"unknown", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.out {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.out)
		}
	}
}
