// Package logging provides real-time log output for turn processing.
// The persisted session context is the forensic record. This package
// provides optional console output for monitoring live conversations.
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

// Logger provides structured logging to stdout.
// This is for real-time monitoring only - forensic analysis uses session state.
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	sessionID string
}

// levelPriority maps levels to numeric priority for filtering.
var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger.
func New() *Logger {
	return &Logger{
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: component,
		sessionID: l.sessionID,
	}
}

// WithSession returns a new logger scoped to the given session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		sessionID: sessionID,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
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

// log writes a log entry in traditional format: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	var fieldStr string
	if len(fields) > 0 && fields[0] != nil {
		fieldStr = formatFields(fields[0])
	}
	if l.sessionID != "" {
		fieldStr = " session=" + l.sessionID + fieldStr
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

// --- Turn-derived logging methods ---
// These are called by the orchestrator and its collaborators during a turn.

// TurnStart logs the start of a turn.
func (l *Logger) TurnStart(botType, state string) {
	l.Info("turn_start", map[string]interface{}{
		"bot":   botType,
		"state": state,
	})
}

// TurnComplete logs the completion of a turn.
func (l *Logger) TurnComplete(nextState string, docs int, duration time.Duration) {
	l.Info("turn_complete", map[string]interface{}{
		"next_state": nextState,
		"documents":  docs,
		"duration":   duration.String(),
	})
}

// TransitionFired logs a matched transition rule.
func (l *Logger) TransitionFired(botType, from, to string) {
	l.Info("transition", map[string]interface{}{
		"bot":  botType,
		"from": from,
		"to":   to,
	})
}

// RuleSkipped logs a transition rule skipped as misconfigured.
func (l *Logger) RuleSkipped(botType, state, reason string) {
	l.Warn("rule_skipped", map[string]interface{}{
		"bot":    botType,
		"state":  state,
		"reason": reason,
	})
}

// ConditionError logs a condition evaluator failure (treated as false).
func (l *Logger) ConditionError(condType string, err error) {
	l.Debug("condition_error", map[string]interface{}{
		"type":  condType,
		"error": err.Error(),
	})
}

// SourceDegraded logs a retrieval source excluded from fusion.
func (l *Logger) SourceDegraded(tag string, err error) {
	l.Warn("source_degraded", map[string]interface{}{
		"source": tag,
		"error":  err.Error(),
	})
}

// SourceResult logs a retrieval source returning results.
func (l *Logger) SourceResult(tag string, docs int, duration time.Duration) {
	l.Debug("source_result", map[string]interface{}{
		"source":    tag,
		"documents": docs,
		"duration":  duration.String(),
	})
}

// CacheHit logs a retrieval cache hit.
func (l *Logger) CacheHit(key string) {
	l.Debug("cache_hit", map[string]interface{}{
		"key": key,
	})
}

// QueryRejected logs a structured query dropped by validation.
func (l *Logger) QueryRejected(reason string) {
	l.Warn("query_rejected", map[string]interface{}{
		"reason": reason,
	})
}

// EntityObserved logs an entity memory update.
func (l *Logger) EntityObserved(name string, mentions int) {
	l.Debug("entity_observed", map[string]interface{}{
		"entity":   name,
		"mentions": mentions,
	})
}

// SummaryFolded logs messages folded into the session summary.
func (l *Logger) SummaryFolded(removed, total int) {
	l.Debug("summary_folded", map[string]interface{}{
		"removed": removed,
		"total":   total,
	})
}
