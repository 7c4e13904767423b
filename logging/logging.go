// Package logging provides leveled key=value console logging for the
// coordination core. Observability events are the structured record;
// this package renders them and operational messages for humans.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
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

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel converts a config string such as "debug" or "WARN" to a Level.
// Unknown values fall back to LevelInfo.
func ParseLevel(s string) Level {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[level]; ok {
		return level
	}
	return LevelInfo
}

// sink is shared by a logger and every logger derived from it.
type sink struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
}

// Logger writes lines of the form: LEVEL TIMESTAMP [component] message key=value ...
// Loggers derived with WithComponent share output and level with their parent.
type Logger struct {
	sink      *sink
	component string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	return &Logger{sink: &sink{output: os.Stdout, minLevel: LevelInfo}}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

// WithComponent returns a logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{sink: l.sink, component: component}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	l.sink.minLevel = level
	l.sink.mu.Unlock()
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	l.sink.output = w
	l.sink.mu.Unlock()
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

// formatFields renders fields as key=value pairs sorted by key.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if levelPriority[level] < levelPriority[l.sink.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	_, _ = l.sink.output.Write([]byte(line))
}

// --- Coordination logging helpers ---

// AssignmentMade logs a task bound to an agent.
func (l *Logger) AssignmentMade(taskID, agentID string, attempt int) {
	l.Debug("assignment", map[string]interface{}{
		"task":    taskID,
		"agent":   agentID,
		"attempt": attempt,
	})
}

// TaskCompleted logs a task that reached a successful terminal state.
func (l *Logger) TaskCompleted(taskID, agentID string, duration time.Duration) {
	l.Info("task_completed", map[string]interface{}{
		"task":     taskID,
		"agent":    agentID,
		"duration": duration.String(),
	})
}

// TaskFailed logs a failed attempt. retrying tells whether another attempt follows.
func (l *Logger) TaskFailed(taskID, agentID string, attempt int, err error, retrying bool) {
	fields := map[string]interface{}{
		"task":     taskID,
		"agent":    agentID,
		"attempt":  attempt,
		"retrying": retrying,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if retrying {
		l.Warn("task_failed", fields)
		return
	}
	l.Error("task_failed", fields)
}

// AgentOffline logs an agent transition to offline.
func (l *Logger) AgentOffline(agentID, reason string, reassigned int) {
	l.Warn("agent_offline", map[string]interface{}{
		"agent":      agentID,
		"reason":     reason,
		"reassigned": reassigned,
	})
}

// CoordinationFatal logs tasks that could not be recovered after an agent crash.
func (l *Logger) CoordinationFatal(agentID string, taskIDs []string, err error) {
	fields := map[string]interface{}{
		"agent": agentID,
		"tasks": strings.Join(taskIDs, ","),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error("coordination_fatal", fields)
}
