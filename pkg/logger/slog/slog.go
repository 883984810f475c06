// Package slog adapts a log/slog handler to the rxcouch logger interface.
package slog

import (
	"log/slog"
)

type Logger struct {
	logger *slog.Logger
}

func New(h slog.Handler) *Logger {
	return &Logger{logger: slog.New(h)}
}

// FromLogger wraps an already configured *slog.Logger.
func FromLogger(l *slog.Logger) *Logger {
	return &Logger{logger: l}
}

func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}
