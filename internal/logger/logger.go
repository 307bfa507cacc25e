// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the leveled, structured logger used throughout
// pmemcore. It wraps log/slog with a severity scale finer than slog's
// default four levels and an optional rotating file sink.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, expressed as slog.Level offsets so they interleave with
// slog's own Debug/Info/Warn/Error constants.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
)

var levelNames = map[slog.Leveler]string{
	LevelTrace:   "TRACE",
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

// Format selects the slog handler used to render log lines.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config controls where and how logs are emitted. It is the logging
// section of cfg.Config.
type Config struct {
	Format   Format
	Level    slog.Level
	FilePath string // empty: log to stderr
	MaxSizeMB int
	MaxBackups int
}

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))

// New builds a *slog.Logger per cfg. If cfg.FilePath is non-empty, writes
// are rotated through lumberjack and decoupled via AsyncLogger so a slow
// disk blocks a caller only once AsyncLogger's buffer is full.
func New(cfg Config) (*slog.Logger, func() error) {
	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    firstNonZero(cfg.MaxSizeMB, 100),
			MaxBackups: cfg.MaxBackups,
		}
		async := NewAsyncLogger(lj, 1024)
		w = async
		closer = async.Close
	}

	programLevel := new(slog.LevelVar)
	programLevel.Set(cfg.Level)

	handler := newHandler(cfg.Format, w, programLevel)
	l := slog.New(handler)
	return l, closer
}

func newHandler(format Format, w io.Writer, level *slog.LevelVar) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				if name, ok := levelNames[lvl]; ok {
					a.Value = slog.StringValue(name)
				}
			}
			return a
		},
	}

	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// SetDefault installs l as the package-level default logger used by the
// Trace/Debug/Info/Warning/Error helpers below.
func SetDefault(l *slog.Logger) { defaultLogger = l }

func Trace(ctx context.Context, msg string, args ...any) {
	defaultLogger.Log(ctx, LevelTrace, msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	defaultLogger.Log(ctx, LevelDebug, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	defaultLogger.Log(ctx, LevelInfo, msg, args...)
}

func Warning(ctx context.Context, msg string, args ...any) {
	defaultLogger.Log(ctx, LevelWarning, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	defaultLogger.Log(ctx, LevelError, msg, args...)
}
