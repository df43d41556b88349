package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ino-taku/mf-importer/internal/config"
)

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "logs", "test.log")

	cfg := config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, err := InitializeLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	if logger == nil {
		t.Fatal("Logger is nil")
	}
	if GetLogger() != logger {
		t.Error("GetLogger did not return the initialized logger")
	}

	logger.Info("test message", "key", "value")

	// Close log file to allow reading on Windows
	CloseLogFile()

	content, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Errorf("Log output is not valid JSON: %v", err)
	}
	if logEntry["msg"] != "test message" {
		t.Errorf("Expected msg='test message', got %v", logEntry["msg"])
	}
	if logEntry["key"] != "value" {
		t.Errorf("Expected key='value', got %v", logEntry["key"])
	}
	if logEntry["level"] != "INFO" {
		t.Errorf("Expected level='INFO', got %v", logEntry["level"])
	}
}

func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, nil)

	ctx := WithTraceID(context.Background(), "test-trace-123")
	WithComponent(logger, "login").InfoContext(ctx, "test with trace")

	var logEntry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
		t.Fatalf("Failed to parse log JSON: %v", err)
	}
	if logEntry["trace_id"] != "test-trace-123" {
		t.Errorf("Expected trace_id='test-trace-123', got %v", logEntry["trace_id"])
	}
	if logEntry["component"] != "login" {
		t.Errorf("Expected component='login', got %v", logEntry["component"])
	}

	buf.Reset()
	logger.Info("no context")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("Unexpected trace_id without context: %s", buf.String())
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level    string
		logged   []string
		filtered []string
	}{
		{"debug", []string{"DEBUG", "INFO", "WARN", "ERROR"}, nil},
		{"info", []string{"INFO", "WARN", "ERROR"}, []string{"DEBUG"}},
		{"warning", []string{"WARN", "ERROR"}, []string{"DEBUG", "INFO"}},
		{"error", []string{"ERROR"}, []string{"DEBUG", "INFO", "WARN"}},
		{"bogus", []string{"INFO"}, []string{"DEBUG"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			ResetLoggerForTesting()
			defer ResetLoggerForTesting()

			logFile := filepath.Join(t.TempDir(), "test.log")
			logger, err := InitializeLogger(config.LoggingConfig{
				Level:    tt.level,
				Output:   "file",
				FilePath: logFile,
			})
			if err != nil {
				t.Fatalf("Failed to initialize logger: %v", err)
			}

			logger.Debug("m")
			logger.Info("m")
			logger.Warn("m")
			logger.Error("m")
			CloseLogFile()

			content, err := os.ReadFile(logFile)
			if err != nil {
				t.Fatalf("Failed to read log file: %v", err)
			}
			for _, lvl := range tt.logged {
				if !strings.Contains(string(content), `"level":"`+lvl+`"`) {
					t.Errorf("Expected %s entry in %s", lvl, content)
				}
			}
			for _, lvl := range tt.filtered {
				if strings.Contains(string(content), `"level":"`+lvl+`"`) {
					t.Errorf("Unexpected %s entry in %s", lvl, content)
				}
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	traceID := GetTraceID(ctx)
	if traceID == "" {
		t.Fatal("Expected trace ID to be generated")
	}

	if GetTraceID(EnsureTraceID(ctx)) != traceID {
		t.Error("EnsureTraceID changed existing trace ID")
	}

	if GenerateTraceID() == GenerateTraceID() {
		t.Error("Expected unique trace IDs")
	}
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, nil)

	WithError(logger, os.ErrNotExist).Info("with error")
	if !strings.Contains(buf.String(), `"error":"file does not exist"`) {
		t.Errorf("Expected error field, got %s", buf.String())
	}

	if WithError(logger, nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}

	DiscardLogger().Error("dropped")
}
