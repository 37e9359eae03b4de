// Package logging provides leveled, structured log output for operators.
// The audit trail is the forensic record; this package is real-time
// console output only.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a level name to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes key=value log lines with a component and optional session
// scope.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	session   string
}

// New creates a new Logger writing to stderr at INFO.
func New() *Logger {
	return &Logger{
		output:   os.Stderr,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		session:   l.session,
	}
}

// WithSession returns a new logger scoped to a session key.
func (l *Logger) WithSession(sessionKey string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		session:   sessionKey,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats a map of fields as key=value pairs.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return " " + strings.Join(parts, " ")
}

// log writes a log entry: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.session != "" {
		fieldStr = fmt.Sprintf(" session=%s%s", l.session, fieldStr)
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Domain convenience methods ---
// Called by the transport, client, and ledger after the fact. They never
// feed back into protocol logic.

// ToolCall logs a tool invocation.
func (l *Logger) ToolCall(tool string, id int64) {
	l.Debug("tool_call", map[string]interface{}{
		"tool": tool,
		"id":   id,
	})
}

// ToolResult logs a tool result.
func (l *Logger) ToolResult(tool string, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"tool":     tool,
		"duration": duration.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Error("tool_error", fields)
	} else {
		l.Debug("tool_result", fields)
	}
}

// DroppedLine logs a line that failed envelope parsing.
func (l *Logger) DroppedLine(reason string, size int) {
	l.Debug("line_dropped", map[string]interface{}{
		"reason": reason,
		"bytes":  size,
	})
}

// ProcessExited logs a subprocess exit.
func (l *Logger) ProcessExited(exitCode int, pendingFailed int) {
	l.Warn("process_exited", map[string]interface{}{
		"exit_code":      exitCode,
		"pending_failed": pendingFailed,
	})
}

// Stderr logs one line of the subprocess's diagnostic stream.
func (l *Logger) Stderr(line string) {
	l.Debug("endpoint_stderr", map[string]interface{}{
		"line": line,
	})
}

// ExchangeRecorded logs a newly appended exchange.
func (l *Logger) ExchangeRecorded(from, to string, number int, messageType string) {
	l.Info("exchange_recorded", map[string]interface{}{
		"from":     from,
		"to":       to,
		"exchange": number,
		"type":     messageType,
	})
}

// LimitWarning logs that a communication is approaching its exchange limit.
func (l *Logger) LimitWarning(count, max int) {
	l.Warn("exchange_limit_approaching", map[string]interface{}{
		"count": count,
		"max":   max,
	})
}

// Escalated logs a terminal escalation.
func (l *Logger) Escalated(reason string) {
	l.Warn("escalated", map[string]interface{}{
		"reason": reason,
	})
}

// BreakerTripped logs a circuit breaker trip.
func (l *Logger) BreakerTripped(threshold int, lastErr error) {
	l.Error("breaker_tripped", map[string]interface{}{
		"threshold": threshold,
		"last":      lastErr.Error(),
	})
}
