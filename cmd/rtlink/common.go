package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/rtlink/internal/config"
	"github.com/rickgao/rtlink/internal/connection"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

// load reads and validates the config file, applying the --log-level
// override before validation.
func (o *globalOptions) load() (*config.Config, error) {
	cfg, err := config.LoadWithDefaults(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// describe prefers the user-facing message for classified client errors.
func describe(err error) string {
	if kind, ok := connection.KindOf(err); ok {
		return fmt.Sprintf("%s (%v)", connection.Describe(kind), err)
	}
	return err.Error()
}
