// Package log provides a small leveled logger used throughout multirunner.
package log

import (
	"fmt"
	"io"
	"log"
	"runtime"
	"strings"
	"sync/atomic"
)

// Level indicates the minimum severity a Logger will emit.
type Level int32

const (
	// Debug emits every message, including per-record seed/read tracing.
	Debug Level = iota
	// Info emits lifecycle messages (worker spawned, run complete, ...).
	Info
	// Warn emits recoverable anomalies (sample errors, replace-on-death disabled, ...).
	Warn
	// Error emits failures that changed the outcome of a run.
	Error
)

// ParseLevel converts a case-insensitive level name to a Level. Unrecognized
// names fall back to def.
func ParseLevel(name string, def Level) Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "WARN", "WARNING":
		return Warn
	case "ERROR":
		return Error
	default:
		return def
	}
}

// New creates a Logger instance writing to w, prefixed with prefix, at the
// Info level.
func New(w io.Writer, prefix string) *Logger {
	l := &Logger{
		Logger: log.New(
			w,
			prefix,
			log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC|log.Lmsgprefix,
		),
	}
	l.level.Store(int32(Info))
	return l
}

// Logger represents a logging object that writes output to an io.Writer. Each
// logging operation makes a single call to the Writer's Write method. Logger
// is thread-safe; it guarantees to serialize access to the Writer and to the
// configured Level.
type Logger struct {
	*log.Logger
	level atomic.Int32
}

// SetLevel changes the minimum Level this Logger emits.
func (l *Logger) SetLevel(lvl Level) {
	l.level.Store(int32(lvl))
}

// Debugf prints a debug log-level message.
func (l *Logger) Debugf(msg string, args ...interface{}) {
	l.logf(Debug, "DEBUG", msg, args...)
}

// Errorf prints an error log-level message.
func (l *Logger) Errorf(msg string, args ...interface{}) {
	l.logf(Error, "ERROR", msg, args...)
}

// Warnf prints a warn log-level message.
func (l *Logger) Warnf(msg string, args ...interface{}) {
	l.logf(Warn, "WARN", msg, args...)
}

// Infof prints an info log-level message.
func (l *Logger) Infof(msg string, args ...interface{}) {
	l.logf(Info, "INFO", msg, args...)
}

func (l *Logger) logf(lvl Level, tag, msg string, args ...interface{}) {
	if lvl < Level(l.level.Load()) {
		return
	}
	file, line := caller(3)
	l.Printf("[%s] %s:%d --- %s", tag, file, line, fmt.Sprintf(msg, args...))
}

func caller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth)
	parts := strings.Split(file, "/")

	// shorten file if it consists of more than 3 parts
	if len(parts) > 3 {
		file = strings.Join(parts[len(parts)-3:], "/")
	}
	if !ok {
		file = "???"
		line = 0
	}
	return file, line
}
