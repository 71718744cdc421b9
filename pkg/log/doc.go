// Package log provides Brook's structured logging facade and utilities.
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Internally it is backed by log/slog via
// a handler that routes records through our formatter/output pipeline.
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("appender"), log.Str("brook", "orders|42"))
//	l.Info("batch committed", log.Int64("position", 95))
//
// Use ApplyConfig to build a logger from a declarative Config (text or JSON,
// redaction, sampling). RedirectStdLog routes the standard library logger,
// which pebble writes to, through a Logger.
package log
