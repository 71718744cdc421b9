package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithLevel(WarnLevel), WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf)))
	l.Info("dropped")
	l.Warn("kept", Str("k", "v"))
	out := buf.String()
	require.NotContains(t, out, "dropped")
	require.Contains(t, out, "WARN  kept k=v")
}

func TestWithFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	child := l.WithComponent("appender").With(Int64("position", 7))
	child.Info("committed", Err(errors.New("boom")))

	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m), buf.String())
	require.Equal(t, "appender", m["component"])
	require.Equal(t, "committed", m["msg"])
	require.Equal(t, "boom", m["error"])
	require.EqualValues(t, 7, m["position"])
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DebugLevel, "WARN": WarnLevel, "": InfoLevel, "error": ErrorLevel} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestApplyConfigRedacts(t *testing.T) {
	l, err := ApplyConfig(&Config{Level: "debug", Format: "json", Output: "null", RedactKeys: []string{"secret"}})
	require.NoError(t, err)
	var buf bytes.Buffer
	bl := l.(*BaseLogger)
	bl.outputs = []Output{NewWriterOutput(&buf)}
	l.Debug("hello", Str("secret", "hunter2"))
	require.NotContains(t, buf.String(), "hunter2")
	require.Contains(t, buf.String(), "[REDACTED]")

	_, err = ApplyConfig(&Config{Format: "xml"})
	require.Error(t, err)
}

func TestCallerIsCallSite(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&JSONFormatter{}), WithOutput(NewWriterOutput(&buf)))
	l.WithComponent("c").Info("here")
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	caller, _ := m["caller"].(string)
	require.Contains(t, caller, "logger_test.go")
}

func TestGroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(WithFormatter(&TextFormatter{DisableTimestamp: true}), WithOutput(NewWriterOutput(&buf))).(*BaseLogger)
	l.slogLogger.WithGroup("lease").Info("renewed", "key", "t|s")
	require.Contains(t, buf.String(), "lease.key=t|s")
}

func TestSamplingKeepsInitialThenEveryNth(t *testing.T) {
	l, err := ApplyConfig(&Config{Level: "info", Output: "null", SampleInitial: 2, SampleThereafter: 3})
	require.NoError(t, err)
	var buf bytes.Buffer
	l.(*BaseLogger).outputs = []Output{NewWriterOutput(&buf)}
	for i := 0; i < 8; i++ {
		l.Info("tick")
	}
	// kept: 0, 1, then 2 and 5
	require.Equal(t, 4, strings.Count(buf.String(), "tick"), buf.String())
}
