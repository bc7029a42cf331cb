// Package logging provides the structured logging seam used across gateway
// and worker components.
package logging

import (
	"log/slog"
	"os"
)

// Logger is the dependency-injection seam every component takes instead of a
// concrete logger. Mirrors the level set a component actually needs: debug
// detail for the hot path, info for lifecycle events, warn/error for
// degraded and failed operations.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Useful in tests that don't care about log
// output.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...interface{}) {}
func (NoOpLogger) Info(string, ...interface{})  {}
func (NoOpLogger) Warn(string, ...interface{})  {}
func (NoOpLogger) Error(string, ...interface{}) {}

// SlogLogger adapts *slog.Logger to Logger, optionally prefixing every
// record with fixed attributes (instance id, component name).
type SlogLogger struct {
	l *slog.Logger
}

// New builds a SlogLogger writing leveled, structured JSON to stderr.
func New(component string, attrs ...any) *SlogLogger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	l := slog.New(h).With(append([]any{"component", component}, attrs...)...)
	return &SlogLogger{l: l}
}

// With returns a logger with additional fixed attributes, e.g. a client id
// or gateway instance id attached to every subsequent record.
func (s *SlogLogger) With(attrs ...any) *SlogLogger {
	return &SlogLogger{l: s.l.With(attrs...)}
}

func (s *SlogLogger) Debug(msg string, args ...interface{}) { s.l.Debug(msg, args...) }
func (s *SlogLogger) Info(msg string, args ...interface{})  { s.l.Info(msg, args...) }
func (s *SlogLogger) Warn(msg string, args ...interface{})  { s.l.Warn(msg, args...) }
func (s *SlogLogger) Error(msg string, args ...interface{}) { s.l.Error(msg, args...) }
