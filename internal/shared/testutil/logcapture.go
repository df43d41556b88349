// Package testutil provides test helpers: a capturing slog handler and
// fixtures for MoneyForward CSV exports.
package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// LogRecord represents a captured log record for testing
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logStore struct {
	mu      sync.Mutex
	records []LogRecord
}

// CaptureHandler records every log entry, including attributes bound with
// Logger.With, so tests can assert on component-scoped loggers.
type CaptureHandler struct {
	store *logStore
	attrs []slog.Attr
	group string
	t     *testing.T
}

// NewCaptureHandler creates a handler; records are echoed to t when it is
// not nil.
func NewCaptureHandler(t *testing.T) *CaptureHandler {
	return &CaptureHandler{store: &logStore{}, t: t}
}

// NewTestLogger creates a logger with a capture handler for testing
func NewTestLogger(t *testing.T) (*slog.Logger, *CaptureHandler) {
	h := NewCaptureHandler(t)
	return slog.New(h), h
}

// Enabled implements slog.Handler
func (h *CaptureHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements slog.Handler
func (h *CaptureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.store.mu.Lock()
	h.store.records = append(h.store.records, LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   attrs,
	})
	h.store.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

// WithAttrs implements slog.Handler
func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	for i := len(h.attrs); i < len(next.attrs); i++ {
		next.attrs[i].Key = h.key(next.attrs[i].Key)
	}
	return &next
}

// WithGroup implements slog.Handler; grouped keys are joined with a dot.
func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = h.key(name)
	return &next
}

func (h *CaptureHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

// Records returns a copy of everything captured so far.
func (h *CaptureHandler) Records() []LogRecord {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	out := make([]LogRecord, len(h.store.records))
	copy(out, h.store.records)
	return out
}

// Find returns the records whose message contains message.
func (h *CaptureHandler) Find(message string) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if strings.Contains(r.Message, message) {
			out = append(out, r)
		}
	}
	return out
}

// RecordsByLevel returns log records filtered by level
func (h *CaptureHandler) RecordsByLevel(level slog.Level) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

// AssertLogContains checks if the handler contains a log with the given message
func AssertLogContains(t *testing.T, h *CaptureHandler, level slog.Level, message string) {
	t.Helper()
	for _, r := range h.RecordsByLevel(level) {
		if strings.Contains(r.Message, message) {
			return
		}
	}
	t.Errorf("expected %s log containing %q", level, message)
	for _, r := range h.Records() {
		t.Logf("  - [%s] %s", r.Level, r.Message)
	}
}

// AssertLogAttr checks that some record with message carries key=value.
func AssertLogAttr(t *testing.T, h *CaptureHandler, message, key string, value any) {
	t.Helper()
	for _, r := range h.Find(message) {
		if v, ok := r.Attrs[key]; ok && v == value {
			return
		}
	}
	t.Errorf("expected log %q with %s=%v", message, key, value)
	for _, r := range h.Find(message) {
		t.Logf("  - %s: %v", r.Message, r.Attrs)
	}
}

// AssertNoErrors checks that no error-level logs were recorded
func AssertNoErrors(t *testing.T, h *CaptureHandler) {
	t.Helper()
	for _, r := range h.RecordsByLevel(slog.LevelError) {
		t.Errorf("unexpected error log: %s: %v", r.Message, r.Attrs)
	}
}
