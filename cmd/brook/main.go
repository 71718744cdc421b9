package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzbill/brook/internal/cmd/brookctl"
	logpkg "github.com/rzbill/brook/pkg/log"
)

func main() {
	// Respect BROOK_LOG_LEVEL before a config is loaded.
	level := os.Getenv("BROOK_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)
	logpkg.RedirectStdLog(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := brookctl.NewRoot().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
