// Package logger provides a small logging interface for forkterm components.
// Packages log through it without being coupled to a specific implementation.
//
// Nothing resolved by the credential layer is ever passed to a Logger; callers
// log the source name and length of a secret, never its value.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// DebugEnvVar enables debug output when set to any non-empty value.
const DebugEnvVar = "FORK_DEBUG"

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// envLogger logs through the standard log package.
// Debug messages are only printed when FORK_DEBUG is set.
type envLogger struct {
	prefix string
}

// NewEnvLogger creates a logger that respects the FORK_DEBUG environment variable.
// The prefix is prepended to all log messages (e.g., "[ssh]" or "[sandbox]").
func NewEnvLogger(prefix string) Logger {
	return &envLogger{prefix: prefix}
}

func (l *envLogger) Debug(format string, args ...interface{}) {
	if os.Getenv(DebugEnvVar) != "" {
		log.Printf(l.prefix+" "+format, args...)
	}
}

func (l *envLogger) Info(format string, args ...interface{}) {
	log.Printf(l.prefix+" "+format, args...)
}

func (l *envLogger) Warn(format string, args ...interface{}) {
	log.Printf(l.prefix+" WARN: "+format, args...)
}

func (l *envLogger) Error(format string, args ...interface{}) {
	log.Printf(l.prefix+" ERROR: "+format, args...)
}

type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger captures log messages for testing.
// It is safe for concurrent use since backends log from several goroutines.
type BufferLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{
		Messages: make([]LogMessage, 0),
	}
}

func (l *BufferLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.add("debug", format, args...) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.add("info", format, args...) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.add("warn", format, args...) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.add("error", format, args...) }

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Contains returns true if any captured message contains substr.
func (l *BufferLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// All returns a copy of every captured message joined by newlines.
func (l *BufferLogger) All() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	parts := make([]string, len(l.Messages))
	for i, m := range l.Messages {
		parts[i] = m.Level + ": " + m.Message
	}
	return strings.Join(parts, "\n")
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = l.Messages[:0]
}

// Named returns a logger that tags every message with "name: ", so lines
// from concurrent backends can be told apart. Nested names join with ".".
func Named(l Logger, name string) Logger {
	if l == nil {
		return Noop()
	}
	if n, ok := l.(*namedLogger); ok {
		return &namedLogger{next: n.next, name: n.name + "." + name}
	}
	return &namedLogger{next: l, name: name}
}

type namedLogger struct {
	next Logger
	name string
}

func (l *namedLogger) tag(format string) string { return l.name + ": " + format }

func (l *namedLogger) Debug(format string, args ...interface{}) { l.next.Debug(l.tag(format), args...) }
func (l *namedLogger) Info(format string, args ...interface{})  { l.next.Info(l.tag(format), args...) }
func (l *namedLogger) Warn(format string, args ...interface{})  { l.next.Warn(l.tag(format), args...) }
func (l *namedLogger) Error(format string, args ...interface{}) { l.next.Error(l.tag(format), args...) }
