// Copyright (c) 2026 The passkeyd Authors
//
// This file is part of passkeyd.
//
// Use of this source code is governed by the MIT license
// found in the LICENSE file.

// Package logging provides the structured logger shared by the
// passkeyd server and CLI.
package logging

import (
	"fmt"
	"log"
	"log/slog"
	"os"
)

// Logger wraps slog with the small surface the rest of the codebase
// uses.
type Logger struct {
	logger *slog.Logger
	debug  bool
}

// NewLogger creates a new logger instance writing text to stderr.
func NewLogger(debug bool) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		logger: slog.New(handler),
		debug:  debug,
	}
}

// With returns a logger carrying the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		logger: l.logger.With(args...),
		debug:  l.debug,
	}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	if l.debug {
		l.logger.Debug(msg, args...)
	}
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error with optional attributes.
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// Errorf logs a formatted error message.
func (l *Logger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// Fatalf logs a formatted fatal message and exits.
func (l *Logger) Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}

// MaybeError logs err if it is not nil.
func (l *Logger) MaybeError(err error) {
	if err != nil {
		l.logger.Error(err.Error())
	}
}

// DefaultLogger returns a logger with debug disabled.
func DefaultLogger() *Logger {
	return NewLogger(false)
}
