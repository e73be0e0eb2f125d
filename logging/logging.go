// Package logging provides the structured logger shared by sessionkit components.
// It keeps a small facade with domain event helpers over pslog so components log
// the same event names with the same fields.
package logging

import (
	"io"
	"sort"
	"time"

	"pkt.systems/pslog"
)

// Logger writes structured log lines through pslog.
type Logger struct {
	base      pslog.Logger
	component string
}

// New creates a structured logger writing JSON lines to w.
func New(w io.Writer) *Logger {
	return Wrap(pslog.NewWithOptions(w, pslog.Options{
		Mode:    pslog.ModeStructured,
		NoColor: true,
	}))
}

// FromEnv creates a logger configured from the PSLOG_* environment.
func FromEnv() *Logger {
	return Wrap(pslog.LoggerFromEnv())
}

// Wrap adapts an existing pslog logger.
func Wrap(l pslog.Logger) *Logger {
	if l == nil {
		l = pslog.LoggerFromEnv()
	}
	return &Logger{base: l}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New(io.Discard)
}

// WithComponent returns a new logger tagged with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		base:      l.base.With("component", component),
		component: component,
	}
}

// With returns a new logger carrying the given key/value pairs.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{
		base:      l.base.With(keyvals...),
		component: l.component,
	}
}

// Component returns the component name, if any.
func (l *Logger) Component() string {
	return l.component
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.base.Debug(msg, flatten(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.base.Info(msg, flatten(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.base.Warn(msg, flatten(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.base.Error(msg, flatten(fields)...)
}

// flatten turns the first field map into sorted key/value pairs.
func flatten(fields []map[string]interface{}) []any {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	m := fields[0]
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	kv := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		kv = append(kv, k, m[k])
	}
	return kv
}

// --- Event helpers ---

// Transition logs a state machine transition.
func (l *Logger) Transition(from, to string) {
	l.Debug("transition", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// SessionExpired logs an inactivity logout.
func (l *Logger) SessionExpired(role string, idle time.Duration) {
	l.Info("session_expired", map[string]interface{}{
		"role": role,
		"idle": idle.String(),
	})
}

// PolicyChanged logs an accepted timeout policy change.
func (l *Logger) PolicyChanged(oldMinutes, newMinutes int) {
	l.Info("policy_changed", map[string]interface{}{
		"old_minutes": oldMinutes,
		"new_minutes": newMinutes,
	})
}

// PolicyRejected logs a fetched policy that was not accepted.
func (l *Logger) PolicyRejected(reason string, err error) {
	fields := map[string]interface{}{
		"reason": reason,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Debug("policy_rejected", fields)
}

// HeartbeatFailed logs a failed heartbeat. The interval keeps running.
func (l *Logger) HeartbeatFailed(err error) {
	l.Warn("heartbeat_failed", map[string]interface{}{
		"error": err.Error(),
	})
}

// OfflineMarked logs an offline notification and what triggered it.
func (l *Logger) OfflineMarked(trigger string, err error) {
	fields := map[string]interface{}{
		"trigger": trigger,
	}
	if err != nil {
		fields["error"] = err.Error()
		l.Warn("offline_mark_failed", fields)
		return
	}
	l.Info("offline_marked", fields)
}
