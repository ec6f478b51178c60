package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFileLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mergepilot.log")

	closer, logger := NewFileLogger(FileConfig{Path: path, MaxSizeMB: 1}, true, ParseLevel("info"))
	logger.Info("run started", "target", "main")
	if err := closer.Close(); err != nil {
		t.Fatalf("close file logger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "run started") {
		t.Fatalf("log file missing expected message, got: %s", data)
	}
}

func TestLoggerZeroValueIsSilent(t *testing.T) {
	var l Logger
	l.Info("should not panic")
	l.Warn("should not panic")
	l.Error("should not panic")
	l.Debug("should not panic")
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	if ParseLevel("nonsense") != ParseLevel("info") {
		t.Fatal("expected unrecognized level to default to info")
	}
}
