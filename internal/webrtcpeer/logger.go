package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog.LevelDebug so pion's trace output can be
// filtered separately.
const levelTrace = slog.LevelDebug - 4

// LoggerFactory routes pion's scoped loggers into slog. Records below Level
// are dropped before formatting.
type LoggerFactory struct {
	Logger *slog.Logger
	Level  slog.Level
}

var _ logging.LoggerFactory = LoggerFactory{}

func (f LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &scopedLogger{
		logger: logger.With("component", "pion", "scope", scope),
		level:  f.Level,
	}
}

type scopedLogger struct {
	logger *slog.Logger
	level  slog.Level
}

func (l *scopedLogger) log(level slog.Level, msg string) {
	if level < l.level {
		return
	}
	l.logger.Log(context.Background(), level, msg)
}

func (l *scopedLogger) logf(level slog.Level, format string, args ...any) {
	if level < l.level {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *scopedLogger) Trace(msg string)                  { l.log(levelTrace, msg) }
func (l *scopedLogger) Tracef(format string, args ...any) { l.logf(levelTrace, format, args...) }
func (l *scopedLogger) Debug(msg string)                  { l.log(slog.LevelDebug, msg) }
func (l *scopedLogger) Debugf(format string, args ...any) { l.logf(slog.LevelDebug, format, args...) }
func (l *scopedLogger) Info(msg string)                   { l.log(slog.LevelInfo, msg) }
func (l *scopedLogger) Infof(format string, args ...any)  { l.logf(slog.LevelInfo, format, args...) }
func (l *scopedLogger) Warn(msg string)                   { l.log(slog.LevelWarn, msg) }
func (l *scopedLogger) Warnf(format string, args ...any)  { l.logf(slog.LevelWarn, format, args...) }
func (l *scopedLogger) Error(msg string)                  { l.log(slog.LevelError, msg) }
func (l *scopedLogger) Errorf(format string, args ...any) { l.logf(slog.LevelError, format, args...) }
