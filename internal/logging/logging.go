// Package logging builds the application slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Settings is the subset of configuration the logger needs.
type Settings interface {
	GetLogLevel() string
	GetLogDirectory() string
	GetLogMaxSizeMB() int
	GetLogMaxBackups() int
	GetLogMaxAgeDays() int
	IsTest() bool
}

// New returns a logger writing human readable text to stdout and, outside of
// tests, JSON lines to a size-rotated file under the configured logs dir.
func New(cfg Settings, appName string) *slog.Logger {
	level := ParseLevel(cfg.GetLogLevel())
	opts := &slog.HandlerOptions{Level: level}

	if cfg.IsTest() {
		return slog.New(slog.NewTextHandler(io.Discard, opts))
	}

	console := slog.NewTextHandler(os.Stdout, opts)
	dir := cfg.GetLogDirectory()
	if dir == "" {
		return slog.New(console).With(slog.String("app", appName))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		l := slog.New(console)
		l.Warn("Log directory unavailable, logging to stdout only",
			slog.String("dir", dir),
			slog.Any("error", err))
		return l.With(slog.String("app", appName))
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(dir, appName+".log"),
		MaxSize:    cfg.GetLogMaxSizeMB(),
		MaxBackups: cfg.GetLogMaxBackups(),
		MaxAge:     cfg.GetLogMaxAgeDays(),
		Compress:   true,
	}

	return slog.New(fanout{
		console,
		slog.NewJSONHandler(file, opts),
	}).With(slog.String("app", appName))
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
