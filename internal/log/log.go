// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides a small leveled-logging facade, backed by zap,
// that mirrors the Logger/Helper shape the rest of this module expects.
package log

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level identifies a log severity.
type Level int

// Severities, lowest to highest.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Logger is the minimal sink every parser component writes through.
type Logger interface {
	Log(level Level, msg string)
}

type stdLogger struct {
	zl *zap.Logger
}

// NewStdLogger returns a Logger that writes JSON-less, human-readable
// lines to w, backed by a zap core.
func NewStdLogger(w io.Writer) Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(w),
		zapcore.DebugLevel,
	)
	return &stdLogger{zl: zap.New(core)}
}

func (s *stdLogger) Log(level Level, msg string) {
	switch level {
	case LevelDebug:
		s.zl.Debug(msg)
	case LevelInfo:
		s.zl.Info(msg)
	case LevelWarn:
		s.zl.Warn(msg)
	default:
		s.zl.Error(msg)
	}
}

// filter wraps a Logger and drops entries below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// FilterOption configures a filter built by NewFilter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level that passes through the filter.
func FilterLevel(l Level) FilterOption {
	return func(f *filter) { f.min = l }
}

// NewFilter wraps next with level filtering.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filter{next: next, min: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, msg string) {
	if level < f.min {
		return
	}
	f.next.Log(level, msg)
}

// Helper adds printf-style convenience methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

// Debug logs at debug level.
func (h *Helper) Debug(msg string) { h.logger.Log(LevelDebug, msg) }

// Debugf logs a formatted message at debug level.
func (h *Helper) Debugf(format string, args ...interface{}) {
	h.logger.Log(LevelDebug, fmt.Sprintf(format, args...))
}

// Warn logs at warn level.
func (h *Helper) Warn(msg string) { h.logger.Log(LevelWarn, msg) }

// Warnf logs a formatted message at warn level.
func (h *Helper) Warnf(format string, args ...interface{}) {
	h.logger.Log(LevelWarn, fmt.Sprintf(format, args...))
}

// Error logs at error level.
func (h *Helper) Error(msg string) { h.logger.Log(LevelError, msg) }

// Errorf logs a formatted message at error level.
func (h *Helper) Errorf(format string, args ...interface{}) {
	h.logger.Log(LevelError, fmt.Sprintf(format, args...))
}
