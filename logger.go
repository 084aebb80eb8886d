package eventing

import (
	"log"
	"strings"
)

// Logger is the logging interface used throughout the eventing library.
// Adapt your logging system (zap, slog, logrus) to it; see cmd/eventing-admin
// for a zap adapter.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// Info logs a message without formatting.
	Info(message string)
}

// NoopLogger discards everything. It is the default for every component.
type NoopLogger struct{}

// Debugf implements Logger.
func (l *NoopLogger) Debugf(_ string, _ ...interface{}) {}

// Infof implements Logger.
func (l *NoopLogger) Infof(_ string, _ ...interface{}) {}

// Warnf implements Logger.
func (l *NoopLogger) Warnf(_ string, _ ...interface{}) {}

// Errorf implements Logger.
func (l *NoopLogger) Errorf(_ string, _ ...interface{}) {}

// Info implements Logger.
func (l *NoopLogger) Info(_ string) {}

// LogLevel orders StdLogger output.
type LogLevel int

// Levels understood by StdLogger.
const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel maps "debug", "info", "warn" and "error" to a LogLevel.
// Unknown values yield LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger writes leveled lines through a standard library *log.Logger.
type StdLogger struct {
	out   *log.Logger
	level LogLevel
}

// NewStdLogger creates a StdLogger. A nil out uses log.Default().
func NewStdLogger(out *log.Logger, level LogLevel) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, level: level}
}

func (l *StdLogger) logf(level LogLevel, tag, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.out.Printf("["+tag+"] "+format, args...)
}

// Debugf implements Logger.
func (l *StdLogger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG", format, args...)
}

// Infof implements Logger.
func (l *StdLogger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, "INFO", format, args...)
}

// Warnf implements Logger.
func (l *StdLogger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN", format, args...)
}

// Errorf implements Logger.
func (l *StdLogger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR", format, args...)
}

// Info implements Logger.
func (l *StdLogger) Info(message string) {
	l.logf(LevelInfo, "INFO", "%s", message)
}
