package logger

import (
	"d20d/pkg/models"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "d20d.log")
	l, err := NewLogger(&models.LogConfig{
		ToFile:   true,
		FilePath: path,
		Prefix:   "[d20d]",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	l.With("conn", "abc").Info("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file to exist: %v", err)
	}
	line := string(data)
	for _, want := range []string{`"message":"hello"`, `"conn":"abc"`, `"component":"d20d"`} {
		if !strings.Contains(line, want) {
			t.Errorf("Expected %s in log line %q", want, line)
		}
	}
}

func TestNewLogger_DebugGated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d20d.log")
	l, err := NewLogger(&models.LogConfig{ToFile: true, FilePath: path})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	l.Debug("hidden")
	l.Info("shown")
	l.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "hidden") {
		t.Error("Debug line written with debug disabled")
	}
	if !strings.Contains(string(data), "shown") {
		t.Error("Info line missing")
	}
}

func TestNewLogger_NoOutputs(t *testing.T) {
	l, err := NewLogger(&models.LogConfig{})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	l.Error("goes nowhere")
	if err := l.Close(); err != nil {
		t.Errorf("Close without file should not fail: %v", err)
	}
}
