package log

import (
	"fmt"
	"io"
	stdlog "log"
	"log/slog"
	"strings"
)

// Config declares a logger: level, format and optional redaction/sampling.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // text|json
	// Output is "stderr" (default) or "null".
	Output string `json:"output" yaml:"output"`
	// RedactKeys replaces the values of these field keys with [REDACTED].
	RedactKeys []string `json:"redactKeys" yaml:"redactKeys"`
	// SampleInitial/SampleThereafter enable per-message sampling when SampleThereafter > 0.
	SampleInitial    int `json:"sampleInitial" yaml:"sampleInitial"`
	SampleThereafter int `json:"sampleThereafter" yaml:"sampleThereafter"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{}
	case "json":
		formatter = &JSONFormatter{}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	var output Output
	switch strings.ToLower(cfg.Output) {
	case "", "stderr", "console":
		output = NewConsoleOutput()
	case "null", "none":
		output = NullOutput{}
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	l := NewLogger(WithLevel(level), WithFormatter(formatter), WithOutput(output)).(*BaseLogger)
	h := l.slogLogger.Handler().(*bridgeHandler)
	h = h.withRedactions(cfg.RedactKeys).withSampler(cfg.SampleInitial, cfg.SampleThereafter)
	l.slogLogger = slog.New(h)
	return l, nil
}

// ToStdLogger adapts a Logger to *log.Logger; each line is logged at info.
func ToStdLogger(l Logger) *stdlog.Logger {
	return stdlog.New(&stdWriter{l: l}, "", 0)
}

// RedirectStdLog routes the standard library's global logger (used by
// pebble and other dependencies) through l.
func RedirectStdLog(l Logger) {
	stdlog.SetFlags(0)
	stdlog.SetPrefix("")
	stdlog.SetOutput(&stdWriter{l: l})
}

type stdWriter struct{ l Logger }

var _ io.Writer = (*stdWriter)(nil)

func (w *stdWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.l.Info(msg, Str("source", "stdlog"))
	}
	return len(p), nil
}
