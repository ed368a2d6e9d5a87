// Package logging provides leveled key=value console logging for the
// directory service. Components receive a logger scoped with WithComponent
// so log lines identify their origin.
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
type Logger struct {
	mu        sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	nodeID    string
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
		nodeID:    l.nodeID,
	}
}

// WithNodeID returns a new logger tagged with the local node id.
func (l *Logger) WithNodeID(nodeID string) *Logger {
	return &Logger{
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		nodeID:    nodeID,
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
	if l.nodeID != "" {
		fieldStr = fmt.Sprintf(" node=%s%s", l.nodeID, fieldStr)
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

// --- Directory event helpers ---
// Convenience wrappers used on hot paths so call sites stay terse.

// AgentRegistered logs a successful registration.
func (l *Logger) AgentRegistered(agentID string, skills int) {
	l.Info("agent_registered", map[string]interface{}{
		"agent_id": agentID,
		"skills":   skills,
	})
}

// AgentOffline logs a stale-heartbeat transition.
func (l *Logger) AgentOffline(agentID string, silentFor time.Duration) {
	l.Warn("agent_offline", map[string]interface{}{
		"agent_id":   agentID,
		"silent_for": silentFor.String(),
	})
}

// TrustChange logs a trust score movement.
func (l *Logger) TrustChange(agentID string, old, new float64, event string) {
	l.Debug("trust_change", map[string]interface{}{
		"agent_id": agentID,
		"old":      fmt.Sprintf("%.3f", old),
		"new":      fmt.Sprintf("%.3f", new),
		"event":    event,
	})
}

// PeerSyncFailed logs an isolated federation pull failure.
func (l *Logger) PeerSyncFailed(peer string, err error) {
	l.Warn("peer_sync_failed", map[string]interface{}{
		"peer":  peer,
		"error": err.Error(),
	})
}

// AdmissionRejected logs a rejected admission attempt.
func (l *Logger) AdmissionRejected(agentID, limitType string) {
	l.Warn("admission_rejected", map[string]interface{}{
		"agent_id":   agentID,
		"limit_type": limitType,
	})
}
