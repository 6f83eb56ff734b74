package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(testContext *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" INFO ":  zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, expected := range testCases {
		if got := parseLevel(input); got != expected {
			testContext.Fatalf("parseLevel(%q) = %v, want %v", input, got, expected)
		}
	}
}

func TestNewLoggerWritesRotatedFile(testContext *testing.T) {
	logPath := filepath.Join(testContext.TempDir(), "service.log")
	logger, err := NewLogger(Options{Level: "info", File: logPath, MaxSizeMB: 1})
	if err != nil {
		testContext.Fatalf("failed to build logger: %v", err)
	}
	logger.Info("reclamation worker started")
	_ = logger.Sync()

	contents, err := os.ReadFile(logPath)
	if err != nil {
		testContext.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(contents), "reclamation worker started") {
		testContext.Fatalf("expected log entry in file, got %q", contents)
	}
}
