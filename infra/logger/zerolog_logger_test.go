package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerWithFields(t *testing.T) {
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	var buf bytes.Buffer
	l := NewZerologLoggerTo(&buf, "kernel").With(map[string]any{"pass": "urgent"})
	l.Infof("scheduled %d", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kernel", entry["component"])
	assert.Equal(t, "urgent", entry["pass"])
	assert.Equal(t, "scheduled 3", entry["message"])
}

func TestZerologLoggerLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	var buf bytes.Buffer
	l := NewZerologLoggerTo(&buf, "kernel")
	l.Infof("hidden")
	assert.Zero(t, buf.Len())
	l.Warnf("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l.With(map[string]any{"a": 1}).Infof("x")
}

func TestLogrusLoggerWithFields(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	var buf bytes.Buffer
	l := NewLogrusLoggerTo(&buf, "notifier").With(map[string]any{"resource": "1m0a.doma.lsc"})
	l.Debugw("ack", map[string]any{"command": "abc"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "notifier", entry["component"])
	assert.Equal(t, "1m0a.doma.lsc", entry["resource"])
	assert.Equal(t, "abc", entry["command"])
	assert.Equal(t, "ack", entry["msg"])
}

func TestNewSelectsBackend(t *testing.T) {
	t.Setenv("LOG_BACKEND", "logrus")
	if _, ok := New("x").(*LogrusLogger); !ok {
		t.Fatalf("expected logrus backend")
	}
	t.Setenv("LOG_BACKEND", "")
	if _, ok := New("x").(*ZerologLogger); !ok {
		t.Fatalf("expected zerolog backend")
	}
}
