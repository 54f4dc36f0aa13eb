// Package logger provides logging interfaces and implementations for the eval server.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger is the interface for server logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// defaultLogger is a simple logger that writes to stderr
type defaultLogger struct {
	debug bool
}

// NewDefaultLogger creates a default logger.
// Debug logging is enabled if BRAINTRUST_DEBUG=true
func NewDefaultLogger() Logger {
	debug := strings.ToLower(os.Getenv("BRAINTRUST_DEBUG")) == "true"
	return &defaultLogger{debug: debug}
}

func (l *defaultLogger) Debug(msg string, args ...any) {
	if l.debug {
		l.log("DEBUG", msg, args...)
	}
}

func (l *defaultLogger) Info(msg string, args ...any) {
	l.log("INFO", msg, args...)
}

func (l *defaultLogger) Warn(msg string, args ...any) {
	l.log("WARN", msg, args...)
}

func (l *defaultLogger) Error(msg string, args ...any) {
	l.log("ERROR", msg, args...)
}

func (l *defaultLogger) log(level, msg string, args ...any) {
	line := fmt.Sprintf("[braintrust-eval-server] %s: %s", level, msg)
	if kv := formatArgs(args); kv != "" {
		line += " " + kv
	}
	log.Println(line)
}

// formatArgs renders key-value pairs as "k=v k=v". A trailing key without
// a value is printed on its own.
func formatArgs(args []any) string {
	parts := make([]string, 0, (len(args)+1)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			parts = append(parts, fmt.Sprintf("%v=%v", args[i], args[i+1]))
		} else {
			parts = append(parts, fmt.Sprintf("%v", args[i]))
		}
	}
	return strings.Join(parts, " ")
}

type discardLogger struct{}

// Discard returns a logger that discards all log messages.
func Discard() Logger {
	return discardLogger{}
}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
