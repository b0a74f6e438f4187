// Package logging provides the structured logger injected into a Table: a
// small Logger interface, a StandardLogger default implementation, and a
// NoOpLogger for tests that don't care about log output. There is no
// package-level global logger — every Table is constructed with one
// explicitly.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Level identifies a log severity.
type Level int

// Log levels, ordered least to most severe.
const (
	Debug Level = iota
	Info
	Warn
	Error
)

// Logger is the interface the engine logs through. Maintenance operations
// and the table core only ever call the non-fatal levels: expected failures
// are returned as errors or accumulated in metrics, never logged as a
// substitute for an error return.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)

	// WithFields returns a Logger that prepends fields to every message
	// it logs, without mutating the receiver.
	WithFields(fields map[string]any) Logger

	// SetLevel adjusts the minimum level that is actually emitted.
	SetLevel(level Level)
}

// StandardLogger is the default Logger implementation, backed by logrus.
type StandardLogger struct {
	entry *logrus.Entry
}

// New returns a StandardLogger writing structured (JSON) output at Info
// level.
func New() *StandardLogger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.InfoLevel)
	return &StandardLogger{entry: logrus.NewEntry(l)}
}

func toLogrusFields(fields []any) logrus.Fields {
	out := logrus.Fields{}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		out[key] = fields[i+1]
	}
	return out
}

func (s *StandardLogger) Debug(msg string, fields ...any) {
	s.entry.WithFields(toLogrusFields(fields)).Debug(msg)
}

func (s *StandardLogger) Info(msg string, fields ...any) {
	s.entry.WithFields(toLogrusFields(fields)).Info(msg)
}

func (s *StandardLogger) Warn(msg string, fields ...any) {
	s.entry.WithFields(toLogrusFields(fields)).Warn(msg)
}

func (s *StandardLogger) Error(msg string, fields ...any) {
	s.entry.WithFields(toLogrusFields(fields)).Error(msg)
}

func (s *StandardLogger) WithFields(fields map[string]any) Logger {
	lf := logrus.Fields{}
	for k, v := range fields {
		lf[k] = v
	}
	return &StandardLogger{entry: s.entry.WithFields(lf)}
}

func (s *StandardLogger) SetLevel(level Level) {
	s.entry.Logger.SetLevel(toLogrusLevel(level))
}

func toLogrusLevel(level Level) logrus.Level {
	switch level {
	case Debug:
		return logrus.DebugLevel
	case Info:
		return logrus.InfoLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NoOpLogger discards everything. Useful for tests and for callers that have
// no logging infrastructure to wire in.
type NoOpLogger struct{}

// NewNoOpLogger returns a Logger that discards all messages.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (NoOpLogger) Debug(string, ...any)         {}
func (NoOpLogger) Info(string, ...any)          {}
func (NoOpLogger) Warn(string, ...any)          {}
func (NoOpLogger) Error(string, ...any)         {}
func (n NoOpLogger) WithFields(map[string]any) Logger { return n }
func (NoOpLogger) SetLevel(Level)               {}
