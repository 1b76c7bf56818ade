// Package logging provides the narrow logger every bridge component depends on.
package logging

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

// Logger interface for logging operations
type Logger interface {
	LogDebug(message string, keyValuePairs ...any)
	LogInfo(message string, keyValuePairs ...any)
	LogWarn(message string, keyValuePairs ...any)
	LogError(message string, keyValuePairs ...any)
}

// ZerologLogger adapts a zerolog.Logger to implement the Logger interface
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a new ZerologLogger
func NewZerologLogger(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

// With returns a child logger that carries the given key/value pairs on every entry.
func (l *ZerologLogger) With(keyValuePairs ...any) *ZerologLogger {
	return &ZerologLogger{log: l.log.With().Fields(keyValuePairs).Logger()}
}

// Zerolog exposes the underlying logger for libraries that take one directly.
func (l *ZerologLogger) Zerolog() *zerolog.Logger {
	return &l.log
}

// LogDebug logs a debug message
func (l *ZerologLogger) LogDebug(message string, keyValuePairs ...any) {
	l.log.Debug().Fields(keyValuePairs).Msg(message)
}

// LogInfo logs an info message
func (l *ZerologLogger) LogInfo(message string, keyValuePairs ...any) {
	l.log.Info().Fields(keyValuePairs).Msg(message)
}

// LogWarn logs a warning message
func (l *ZerologLogger) LogWarn(message string, keyValuePairs ...any) {
	l.log.Warn().Fields(keyValuePairs).Msg(message)
}

// LogError logs an error message
func (l *ZerologLogger) LogError(message string, keyValuePairs ...any) {
	l.log.Error().Fields(keyValuePairs).Msg(message)
}

// Component returns a child of logger tagged with the component name. Loggers that
// cannot carry fields are returned unchanged.
func Component(logger Logger, name string) Logger {
	if zl, ok := logger.(*ZerologLogger); ok {
		return zl.With("component", name)
	}
	return logger
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) LogDebug(string, ...any) {}
func (nopLogger) LogInfo(string, ...any)  {}
func (nopLogger) LogWarn(string, ...any)  {}
func (nopLogger) LogError(string, ...any) {}

// Nop returns a Logger that discards all entries.
func Nop() Logger {
	return nopLogger{}
}

// testLogger implements Logger for use in tests
type testLogger struct {
	t testing.TB
}

// NewTestLogger creates a Logger that writes through t.Logf.
func NewTestLogger(t testing.TB) Logger {
	return &testLogger{t: t}
}

func (l *testLogger) LogDebug(message string, keyValuePairs ...any) {
	l.t.Logf("[DEBUG] %s %s", message, formatPairs(keyValuePairs))
}

func (l *testLogger) LogInfo(message string, keyValuePairs ...any) {
	l.t.Logf("[INFO] %s %s", message, formatPairs(keyValuePairs))
}

func (l *testLogger) LogWarn(message string, keyValuePairs ...any) {
	l.t.Logf("[WARN] %s %s", message, formatPairs(keyValuePairs))
}

func (l *testLogger) LogError(message string, keyValuePairs ...any) {
	l.t.Logf("[ERROR] %s %s", message, formatPairs(keyValuePairs))
}

func formatPairs(keyValuePairs []any) string {
	out := ""
	for i := 0; i < len(keyValuePairs); i += 2 {
		if i > 0 {
			out += " "
		}
		if i+1 < len(keyValuePairs) {
			out += fmt.Sprintf("%v=%v", keyValuePairs[i], keyValuePairs[i+1])
		} else {
			out += fmt.Sprintf("%v=<missing>", keyValuePairs[i])
		}
	}
	return out
}
