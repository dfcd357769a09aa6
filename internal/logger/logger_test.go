package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
}

func TestSetup_IncludesTimeField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_IncludesLevelField(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Warn("warning test")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["level"] != "WARN" {
		t.Errorf("level = %q, want %q", entry["level"], "WARN")
	}
}

func TestSetup_MultipleAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf)

	l.Info("session committed",
		slog.String("guild_id", "g-123"),
		slog.String("session_key", "u-1:r-456"),
		slog.String("date", "2026-10-17"),
		slog.Int("entry_count", 2),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["guild_id"] != "g-123" {
		t.Errorf("guild_id = %q, want %q", entry["guild_id"], "g-123")
	}
	if entry["session_key"] != "u-1:r-456" {
		t.Errorf("session_key = %q, want %q", entry["session_key"], "u-1:r-456")
	}
	if entry["date"] != "2026-10-17" {
		t.Errorf("date = %q, want %q", entry["date"], "2026-10-17")
	}
	if entry["entry_count"] != float64(2) {
		t.Errorf("entry_count = %v, want %v", entry["entry_count"], 2)
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupDefault(&buf)

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}

func TestOutput_WithoutFile_ReturnsStdout(t *testing.T) {
	var buf bytes.Buffer
	w, closer := Output(&buf, "", 14)
	defer closer.Close()

	if w != &buf {
		t.Error("ログファイル未指定の場合は引数のwriterをそのまま返すべき")
	}
}

func TestOutput_WithFile_WritesBoth(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "movienight.log")

	w, closer := Output(&buf, path, 14)
	Setup(w).Info("rotating test")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ログファイルの読み込みに失敗: %v", err)
	}
	if !strings.Contains(string(data), "rotating test") {
		t.Errorf("ログファイルに出力されていない: %s", data)
	}
	if !strings.Contains(buf.String(), "rotating test") {
		t.Errorf("stdoutに出力されていない: %s", buf.String())
	}
}

func TestNewRotatingWriter(t *testing.T) {
	w := NewRotatingWriter("/tmp/movienight.log", 14)
	if w.MaxAge != 14 {
		t.Errorf("MaxAge = %d, want 14", w.MaxAge)
	}
	if w.Filename != "/tmp/movienight.log" {
		t.Errorf("Filename = %q", w.Filename)
	}
}
