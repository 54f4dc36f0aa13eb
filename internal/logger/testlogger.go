// Package logger provides loggers for tests.
package logger

import (
	"sync"
	"testing"

	"github.com/braintrustdata/braintrust-eval-server/logger"
)

// FailTestLogger forwards debug and info lines to t.Logf and fails the test
// on warnings or errors.
type FailTestLogger struct {
	t testing.TB
}

// NewFailTestLogger creates a FailTestLogger.
func NewFailTestLogger(t testing.TB) logger.Logger {
	t.Helper()
	return &FailTestLogger{t: t}
}

func (l *FailTestLogger) Debug(msg string, args ...any) {
	l.t.Helper()
	l.t.Logf("[DEBUG] %s %v", msg, args)
}

func (l *FailTestLogger) Info(msg string, args ...any) {
	l.t.Helper()
	l.t.Logf("[INFO] %s %v", msg, args)
}

// Warn fails the test.
func (l *FailTestLogger) Warn(msg string, args ...any) {
	l.t.Helper()
	l.t.Errorf("[WARN] %s %v", msg, args)
}

// Error fails the test.
func (l *FailTestLogger) Error(msg string, args ...any) {
	l.t.Helper()
	l.t.Errorf("[ERROR] %s %v", msg, args)
}

// RecordingLogger keeps every line so tests can assert on what was logged.
type RecordingLogger struct {
	mu    sync.Mutex
	Lines []Line
}

// Line is one recorded log call.
type Line struct {
	Level string
	Msg   string
	Args  []any
}

func (l *RecordingLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Lines = append(l.Lines, Line{Level: level, Msg: msg, Args: args})
}

func (l *RecordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *RecordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *RecordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *RecordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

// Messages returns the recorded messages at level.
func (l *RecordingLogger) Messages(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, line := range l.Lines {
		if line.Level == level {
			out = append(out, line.Msg)
		}
	}
	return out
}
