package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	output := buf.String()
	if output == "" {
		t.Error("Expected log output, got empty string")
	}
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			log := NewFromConfig(tt.level, "json")
			if got := log.GetLevel(); got != tt.want {
				t.Errorf("NewFromConfig(%q) level = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	log := New()
	ctx := context.Background()

	ctxWithLogger := WithContext(ctx, log)

	if ctxWithLogger.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	testLog := NewWithWriter(buf)
	ctx := WithContext(context.Background(), testLog)

	retrievedLog := FromContext(ctx)
	retrievedLog.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	ctx := context.Background()

	// Should return a default logger when none is in context
	log := FromContext(ctx)

	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	fields := map[string]interface{}{
		"tenant_id": 42,
		"entry_key": "0191-abc",
	}

	logWithFields := WithFields(log, fields)
	logWithFields.Info().Msg("staged")

	output := buf.String()
	if !strings.Contains(output, `"tenant_id":42`) {
		t.Errorf("Expected output to contain tenant_id field, got: %s", output)
	}
	if !strings.Contains(output, `"entry_key":"0191-abc"`) {
		t.Errorf("Expected output to contain entry_key field, got: %s", output)
	}
}
