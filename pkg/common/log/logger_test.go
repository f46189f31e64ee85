package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestStandardLogger(t *testing.T) {
	var buf bytes.Buffer

	logger := NewStandardLogger(
		WithOutput(&buf),
		WithLevel(LevelDebug),
	)

	levels := []struct {
		log    func(string, ...interface{})
		marker string
	}{
		{logger.Debug, "[DEBUG]"},
		{logger.Info, "[INFO]"},
		{logger.Warn, "[WARN]"},
		{logger.Error, "[ERROR]"},
	}

	for _, lvl := range levels {
		lvl.log("page sealed")
		if !strings.Contains(buf.String(), lvl.marker) || !strings.Contains(buf.String(), "page sealed") {
			t.Errorf("Logging at %s failed, got: %s", lvl.marker, buf.String())
		}
		buf.Reset()
	}

	// Formatted messages
	logger.Info("flushed %d entries into %d pages", 120, 3)
	if !strings.Contains(buf.String(), "flushed 120 entries into 3 pages") {
		t.Errorf("Formatted message failed, got: %s", buf.String())
	}
	buf.Reset()

	// Level filtering
	logger.SetLevel(LevelError)
	logger.Debug("should not appear")
	logger.Info("should not appear")
	logger.Warn("should not appear")
	logger.Error("should appear")
	output := buf.String()
	if strings.Contains(output, "should not appear") || !strings.Contains(output, "should appear") {
		t.Errorf("Level filtering failed, got: %s", output)
	}

	if logger.GetLevel() != LevelError {
		t.Errorf("GetLevel failed, expected LevelError, got: %v", logger.GetLevel())
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(
		WithOutput(&buf),
		WithInitialFields(map[string]interface{}{"component": "memtable"}),
	)

	// Fields are printed sorted by key
	logger.WithFields(map[string]interface{}{
		"page":  7,
		"bytes": 4096,
	}).Info("sealed")

	output := buf.String()
	if !strings.Contains(output, " bytes=4096 component=memtable page=7 sealed") {
		t.Errorf("Unexpected field formatting, got: %s", output)
	}
	buf.Reset()

	// Derived loggers share the level of their parent
	child := logger.WithField("module", "flush")
	logger.SetLevel(LevelWarn)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("Child logger ignored parent level, got: %s", buf.String())
	}

	child.Warn("visible")
	if !strings.Contains(buf.String(), "module=flush") {
		t.Errorf("Child logger lost its field, got: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name     string
		expected Level
		wantErr  bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"fatal", LevelFatal, false},
		{"verbose", LevelInfo, true},
	}

	for _, tc := range testCases {
		level, err := ParseLevel(tc.name)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q): unexpected error state %v", tc.name, err)
		}
		if level != tc.expected {
			t.Errorf("ParseLevel(%q): expected %v, got %v", tc.name, tc.expected, level)
		}
	}
}

func TestDefaultLogger(t *testing.T) {
	originalLogger := defaultLogger
	defer func() {
		defaultLogger = originalLogger
	}()

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(
		WithOutput(&buf),
		WithLevel(LevelInfo),
	))

	Info("Global info message")
	if !strings.Contains(buf.String(), "[INFO]") || !strings.Contains(buf.String(), "Global info message") {
		t.Errorf("Global info logging failed, got: %s", buf.String())
	}
	buf.Reset()

	Debug("Global debug message")
	if buf.Len() != 0 {
		t.Errorf("Debug message should be filtered, got: %s", buf.String())
	}

	WithField("global", true).Info("Global with field")
	output := buf.String()
	if !strings.Contains(output, "global=true") || !strings.Contains(output, "Global with field") {
		t.Errorf("Global logging with field failed, got: %s", output)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Error("dropped")
	if logger.GetLevel() <= LevelFatal {
		t.Errorf("Discard logger should filter every level, got %v", logger.GetLevel())
	}
}
