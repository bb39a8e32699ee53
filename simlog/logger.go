// Package simlog provides the structured logger used throughout the
// simulation kernel. It mirrors gomind's core.Logger /
// core.ComponentAwareLogger split: a minimal leveled interface plus a
// component-scoped variant, backed by a single production implementation
// that switches between JSON and human-readable text output.
package simlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal structured logging interface used by every
// component in the kernel.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentLogger extends Logger with a component-scoped child logger, the
// way gomind's ComponentAwareLogger lets each subsystem tag its own logs
// (e.g. "kernel/escalation", "kernel/distribution") while sharing one sink.
type ComponentLogger interface {
	Logger
	WithComponent(component string) ComponentLogger
}

// ProductionLogger writes either JSON or a compact text line, as selected
// by the format passed to New, following gomind's
// telemetry.TelemetryLogger output shapes.
type ProductionLogger struct {
	mu        sync.Mutex
	out       io.Writer
	level     Level
	format    string // "json" or "text"
	component string
}

var _ ComponentLogger = (*ProductionLogger)(nil)

// New creates a logger. format is "json" or "text"; levelName is one of
// debug/info/warn/error (case-insensitive).
func New(format, levelName string) *ProductionLogger {
	return &ProductionLogger{
		out:    os.Stdout,
		level:  parseLevel(levelName),
		format: normalizeFormat(format),
	}
}

func parseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func normalizeFormat(s string) string {
	if strings.ToLower(s) == "text" {
		return "text"
	}
	return "json"
}

func (l *ProductionLogger) WithComponent(component string) ComponentLogger {
	return &ProductionLogger{out: l.out, level: l.level, format: l.format, component: component}
}

func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, fields)
}
func (l *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, fields)
}
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(WarnLevel, msg, fields)
}
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, fields)
}

func (l *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(DebugLevel, msg, withTraceFields(ctx, fields))
}
func (l *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(InfoLevel, msg, withTraceFields(ctx, fields))
}
func (l *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(WarnLevel, msg, withTraceFields(ctx, fields))
}
func (l *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	l.log(ErrorLevel, msg, withTraceFields(ctx, fields))
}

func (l *ProductionLogger) log(level Level, msg string, fields map[string]interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := map[string]interface{}{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": level.String(),
			"msg":   msg,
		}
		if l.component != "" {
			entry["component"] = l.component
		}
		for k, v := range fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.out, "{\"level\":\"ERROR\",\"msg\":\"log marshal failed: %v\"}\n", err)
			return
		}
		fmt.Fprintln(l.out, string(data))
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.component != "" {
		b.WriteString(l.component)
		b.WriteString(": ")
	}
	b.WriteString(msg)
	for _, k := range sortedKeys(fields) {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	fmt.Fprintln(l.out, b.String())
}

func sortedKeys(fields map[string]interface{}) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// traceFieldsKey is an unexported context key; the telemetry package
// stashes trace/span IDs under it so logs and spans correlate.
type traceFieldsKeyType struct{}

var traceFieldsKey = traceFieldsKeyType{}

// ContextWithTraceFields attaches trace/span IDs to ctx for correlated logging.
func ContextWithTraceFields(ctx context.Context, traceID, spanID string) context.Context {
	return context.WithValue(ctx, traceFieldsKey, map[string]interface{}{"trace_id": traceID, "span_id": spanID})
}

func withTraceFields(ctx context.Context, fields map[string]interface{}) map[string]interface{} {
	tf, _ := ctx.Value(traceFieldsKey).(map[string]interface{})
	if tf == nil {
		return fields
	}
	merged := make(map[string]interface{}, len(fields)+len(tf))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range tf {
		merged[k] = v
	}
	return merged
}

// NoOp is a Logger/ComponentLogger that discards everything, used as a
// safe default when the caller does not supply one.
type NoOp struct{}

var _ ComponentLogger = NoOp{}

func (NoOp) Debug(string, map[string]interface{}) {}
func (NoOp) Info(string, map[string]interface{})  {}
func (NoOp) Warn(string, map[string]interface{})  {}
func (NoOp) Error(string, map[string]interface{}) {}
func (NoOp) DebugWithContext(context.Context, string, map[string]interface{}) {}
func (NoOp) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOp) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOp) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (n NoOp) WithComponent(string) ComponentLogger                           { return n }
