package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.level.String() != tt.expected {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, tt.level.String(), tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"trace", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel should reject unknown names")
	}
}

func TestFieldCreators(t *testing.T) {
	f := String("key", "value")
	if f.Key != "key" || f.Value != "value" {
		t.Errorf("String field incorrect: %+v", f)
	}

	f = Int("count", 42)
	if f.Key != "count" || f.Value != 42 {
		t.Errorf("Int field incorrect: %+v", f)
	}

	f = Int64("bytes", 1024)
	if f.Key != "bytes" || f.Value != int64(1024) {
		t.Errorf("Int64 field incorrect: %+v", f)
	}

	f = Uint64("rounds", 60000)
	if f.Key != "rounds" || f.Value != uint64(60000) {
		t.Errorf("Uint64 field incorrect: %+v", f)
	}

	f = Bool("enabled", true)
	if f.Key != "enabled" || f.Value != true {
		t.Errorf("Bool field incorrect: %+v", f)
	}

	f = Err(errors.New("test error"))
	if f.Key != "error" || f.Value != "test error" {
		t.Errorf("Err field incorrect: %+v", f)
	}

	f = Err(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("Err(nil) field incorrect: %+v", f)
	}

	f = Duration("elapsed", 5*time.Second)
	if f.Key != "elapsed" || f.Value != "5s" {
		t.Errorf("Duration field incorrect: %+v", f)
	}
}

func TestNullLogger(t *testing.T) {
	logger := &nullLogger{}

	logger.Debug("test")
	logger.Info("test")
	logger.Warn("test")
	logger.Error("test")

	child := logger.WithFields(String("key", "value"))
	if child != logger {
		t.Error("nullLogger.WithFields should return same instance")
	}
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(&buf, LevelInfo)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message should be filtered at Info level")
	}

	logger.Info("info message", String("key", "value"))
	output := buf.String()
	if !strings.Contains(output, "level=info") {
		t.Errorf("Info message should carry level, got %q", output)
	}
	if !strings.Contains(output, "info message") {
		t.Error("Info message should contain message")
	}
	if !strings.Contains(output, "key=value") {
		t.Error("Info message should contain field")
	}

	buf.Reset()
	logger.Warn("warn message")
	if !strings.Contains(buf.String(), "level=warning") {
		t.Error("Warn message should contain warning level")
	}

	buf.Reset()
	logger.Error("error message")
	if !strings.Contains(buf.String(), "level=error") {
		t.Error("Error message should contain error level")
	}
}

func TestLogrusLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogrusLogger(&buf, LevelDebug)

	child := logger.WithFields(String("op", "open"))
	child.Info("message", String("extra", "field"))

	output := buf.String()
	if !strings.Contains(output, "op=open") {
		t.Error("Output should contain persistent field")
	}
	if !strings.Contains(output, "extra=field") {
		t.Error("Output should contain call-specific field")
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := GetLogger()
	if _, ok := logger.(*nullLogger); !ok {
		t.Error("Default logger should be null logger")
	}

	var buf bytes.Buffer
	SetLogger(NewLogrusLogger(&buf, LevelDebug))

	Info("test message")
	if !strings.Contains(buf.String(), "test message") {
		t.Error("Custom logger should receive messages")
	}

	SetLogger(nil)
	if _, ok := GetLogger().(*nullLogger); !ok {
		t.Error("SetLogger(nil) should set null logger")
	}
}

func TestPackageLevelFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewLogrusLogger(&buf, LevelDebug))
	defer SetLogger(nil)

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")

	output := buf.String()
	for _, want := range []string{"level=debug", "level=info", "level=warning", "level=error"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %s", want)
		}
	}
}
