package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"accentid/internal/config"
	"accentid/internal/logging"
	"accentid/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	content := readLog(t, filepath.Join(cfg.Paths.LogDir, "accentid.log"))
	if !strings.Contains(content, "hello from config") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	if content := readLog(t, logPath); strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	if content := readLog(t, logPath); !strings.Contains(content, "logger_test.go:") {
		t.Fatalf("expected caller information in debug logs, got %q", content)
	}
}

func TestConsoleLoggerRendersComponentAndSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRunID(context.Background(), "0f8fad5b-d9cb-469f-a165-70867728950e")
	ctx = services.WithStage(ctx, "fetch")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "pipeline")).
		Info("downloading", logging.String("url", "https://example.com/a b.mp4"))

	content := readLog(t, logPath)
	for _, fragment := range []string{"INFO pipeline: [run 0f8fad5b · fetch] downloading", `url="https://example.com/a b.mp4"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
	if strings.Contains(content, "run_id=") {
		t.Fatalf("expected run id folded into subject, got %q", content)
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithRunID(context.Background(), "run-1")
	ctx = services.WithRequestID(ctx, "req-9")
	logging.WithContext(ctx, logger).Warn("slow", logging.Error(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", entry["level"])
	}
	if entry[logging.FieldRunID] != "run-1" || entry[logging.FieldCorrelationID] != "req-9" {
		t.Fatalf("missing context fields: %v", entry)
	}
	if entry["error"] != "boom" {
		t.Fatalf("expected error field, got %v", entry["error"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.json")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "cache miss", "model_cache_miss", logging.String(logging.FieldImpact, "model loads from network"))

	content := readLog(t, logPath)
	for _, fragment := range []string{`"event_type":"model_cache_miss"`, `"error_hint":"check logs for details"`, `"impact":"model loads from network"`} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %s in %s", fragment, content)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestFormatSubject(t *testing.T) {
	cases := map[string][2]string{
		"run abc · classify": {"abc-def", "classify"},
		"run abc":            {"abc", ""},
		"fetch":              {"", "fetch"},
		"":                   {"", ""},
	}
	for want, in := range cases {
		if got := logging.FormatSubject(in[0], in[1]); got != want {
			t.Fatalf("FormatSubject(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
