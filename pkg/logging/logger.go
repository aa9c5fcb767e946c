// Package logging provides the structured JSON logger used across the
// assessment pipeline. Logs are one JSON object per line with a fixed set of
// standard fields plus caller-supplied fields; a correlation ID travels in
// the context so every stage of one request logs under the same ID.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Fields represents structured log fields.
type Fields map[string]any

type ctxKeyCorrID struct{}

// Logger writes leveled, structured JSON log lines.
type Logger struct {
	component string
	level     Level
	mu        sync.Mutex
	output    io.Writer
	base      Fields
}

// New creates a logger for a named component. A nil output defaults to stdout.
func New(component string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	return &Logger{component: component, level: level, output: output, base: Fields{}}
}

// WithFields returns a child logger whose lines always carry the given fields.
func (l *Logger) WithFields(fields Fields) *Logger {
	child := &Logger{
		component: l.component,
		level:     l.level,
		output:    l.output,
		base:      make(Fields, len(l.base)+len(fields)),
	}
	for k, v := range l.base {
		child.base[k] = v
	}
	for k, v := range fields {
		child.base[k] = v
	}
	return child
}

// WithContext attaches the context's correlation ID, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if id := CorrelationID(ctx); id != "" {
		return l.WithFields(Fields{"correlation_id": id})
	}
	return l
}

func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields Fields) { l.log(LevelError, msg, fields) }

func (l *Logger) log(level Level, msg string, fields Fields) {
	if level < l.level {
		return
	}
	line := make(Fields, len(l.base)+len(fields)+5)
	for k, v := range l.base {
		line[k] = v
	}
	for k, v := range fields {
		line[k] = v
	}
	line["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	line["level"] = level.String()
	line["component"] = l.component
	line["message"] = msg
	if level >= LevelError {
		if _, file, lineNo, ok := runtime.Caller(2); ok {
			line["caller"] = fmt.Sprintf("%s:%d", file, lineNo)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.output)
	if err := enc.Encode(line); err != nil {
		fmt.Fprintf(os.Stderr, "LOG_ERROR: %v\n", err)
	}
}

// WithCorrelationID returns a context carrying the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrID{}, id)
}

// CorrelationID extracts the correlation ID from a context, or "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyCorrID{}).(string); ok {
		return id
	}
	return ""
}
