// Package logging builds the service's loggers. Nothing here is global; the
// caller passes each logger to the components that need it.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LevelCritical sits above Error and marks a failed scheduler cycle.
const LevelCritical = slog.Level(12)

type Config struct {
	Dir        string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Stdout     bool
}

// Loggers are the three append-style logs the service keeps.
type Loggers struct {
	App    *slog.Logger
	Audit  *slog.Logger
	Health *slog.Logger

	closers []io.Closer
}

func New(cfg Config) (*Loggers, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	level := ParseLevel(cfg.Level)
	l := &Loggers{}

	appFile := l.rotate(cfg, "newswatch.log")
	var appOut io.Writer = appFile
	if cfg.Stdout {
		appOut = io.MultiWriter(os.Stdout, appFile)
	}

	l.App = slog.New(newHandler(appOut, level))
	l.Audit = slog.New(newHandler(l.rotate(cfg, "notifications.log"), slog.LevelInfo))
	l.Health = slog.New(newHandler(l.rotate(cfg, "health_check.log"), slog.LevelInfo))

	return l, nil
}

// Discard returns loggers that drop everything.
func Discard() *Loggers {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Loggers{App: logger, Audit: logger, Health: logger}
}

func (l *Loggers) rotate(cfg Config, name string) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	l.closers = append(l.closers, w)
	return w
}

func (l *Loggers) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "critical":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

// Critical logs msg at LevelCritical.
func Critical(ctx context.Context, logger *slog.Logger, msg string, args ...any) {
	logger.Log(ctx, LevelCritical, msg, args...)
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	})
}
