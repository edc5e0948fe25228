// Package logger provides structured logging utilities.
package logger

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// ParseLevel parses a string into a Level. Unknown values map to info.
func ParseLevel(s string) Level {
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

// sink is shared by a logger and every child derived from it, so that
// writes from different components never interleave within a line.
type sink struct {
	mu  sync.Mutex
	out io.Writer
}

// Logger is a structured JSON logger. One JSON object is written per line.
type Logger struct {
	sink   *sink
	level  Level
	fields map[string]interface{}
}

// New creates a new Logger with the specified output and level.
func New(output io.Writer, level string) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{
		sink:   &sink{out: output},
		level:  ParseLevel(level),
		fields: make(map[string]interface{}),
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "error")
}

// With returns a child Logger carrying additional fields.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	child := &Logger{
		sink:   l.sink,
		level:  l.level,
		fields: make(map[string]interface{}, len(l.fields)+len(keyvals)/2),
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	appendPairs(child.fields, keyvals)
	return child
}

// Named returns a child Logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return l.With("component", component)
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

// Debug logs a message at debug level.
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.log(LevelDebug, msg, keyvals)
}

// Info logs a message at info level.
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.log(LevelInfo, msg, keyvals)
}

// Warn logs a message at warn level.
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.log(LevelWarn, msg, keyvals)
}

// Error logs a message at error level.
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.log(LevelError, msg, keyvals)
}

func (l *Logger) log(level Level, msg string, keyvals []interface{}) {
	if !l.Enabled(level) {
		return
	}

	entry := make(map[string]interface{}, len(l.fields)+len(keyvals)/2+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	appendPairs(entry, keyvals)

	// Reserved keys win over caller-supplied ones.
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_, _ = l.sink.out.Write(data)
}

// appendPairs copies key/value pairs into dst. Errors are stored as their
// message so they survive JSON encoding; non-string keys and a trailing
// odd value are dropped.
func appendPairs(dst map[string]interface{}, keyvals []interface{}) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keyvals[i+1].(error); isErr && err != nil {
			dst[key] = err.Error()
			continue
		}
		dst[key] = keyvals[i+1]
	}
}
