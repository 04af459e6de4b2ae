// Package logging wires the agent's structured logger: a slog JSON
// handler with a handful of domain-specific dispatch helpers, following
// the layout of the production agent this project grew out of.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Logger wraps *slog.Logger with domain-specific helpers so call sites
// read as "what happened" rather than a bag of key/value pairs.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing JSON lines to stderr when running under a
// supervisor (detected the same way the original agent does: presence of
// INVOCATION_ID/NOTIFY_SOCKET, or pid 1), otherwise to a log file under
// workingDir so interactive runs don't spam the terminal.
func New(level, agentID, workingDir string) (*Logger, error) {
	var out io.Writer = os.Stderr
	if !isSupervised() {
		f, err := os.OpenFile(filepath.Join(workingDir, "agent.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err == nil {
			out = f
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(level)})
	base := slog.New(handler).With("agent_id", agentID, "service", "siemcore-agent")
	return &Logger{Logger: base}, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "Trace", "Debug":
		return slog.LevelDebug
	case "Information", "":
		return slog.LevelInfo
	case "Warning":
		return slog.LevelWarn
	case "Error", "Critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isSupervised() bool {
	if os.Getenv("INVOCATION_ID") != "" || os.Getenv("NOTIFY_SOCKET") != "" {
		return true
	}
	return os.Getpid() == 1
}

// WithComponent scopes a logger to a named component, mirroring the
// original agent's call sites (one sub-logger per runner/manager).
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component)}
}

// LogSourceEvent logs a source-runner lifecycle event.
func (l *Logger) LogSourceEvent(event, sourceName string, args ...any) {
	attrs := append([]any{"event", event, "source", sourceName}, args...)
	switch event {
	case "source_init_failed", "source_error":
		l.Warn("source event", attrs...)
	default:
		l.Info("source event", attrs...)
	}
}

// LogQueueEvent logs a durable-queue event.
func (l *Logger) LogQueueEvent(event string, args ...any) {
	attrs := append([]any{"event", event}, args...)
	switch event {
	case "queue_full", "queue_high_watermark":
		l.Warn("queue event", attrs...)
	case "queue_corrupt":
		l.Error("queue event", attrs...)
	default:
		l.Debug("queue event", attrs...)
	}
}

// LogForwarderEvent logs a forwarder-client call outcome.
func (l *Logger) LogForwarderEvent(event string, args ...any) {
	attrs := append([]any{"event", event}, args...)
	switch event {
	case "forward_permanent_error", "forward_transient_error":
		l.Warn("forwarder event", attrs...)
	default:
		l.Debug("forwarder event", attrs...)
	}
}

// LogConnectivityEvent logs a supervisor state transition.
func (l *Logger) LogConnectivityEvent(event string, args ...any) {
	l.Info("connectivity event", append([]any{"event", event}, args...)...)
}

// LogConfigEvent logs a configuration manager operation.
func (l *Logger) LogConfigEvent(event string, args ...any) {
	attrs := append([]any{"event", event}, args...)
	switch event {
	case "config_apply_failed", "config_restore_failed":
		l.Error("config event", attrs...)
	case "config_restored":
		l.Warn("config event", attrs...)
	default:
		l.Info("config event", attrs...)
	}
}

// LogHealthEvent logs a health reporter status change or publish.
func (l *Logger) LogHealthEvent(event string, args ...any) {
	attrs := append([]any{"event", event}, args...)
	switch event {
	case "status_error", "status_warning":
		l.Warn("health event", attrs...)
	default:
		l.Debug("health event", attrs...)
	}
}

// LogSystemEvent logs a top-level lifecycle event (startup, shutdown).
func (l *Logger) LogSystemEvent(event string, args ...any) {
	l.Info("system event", append([]any{"event", event}, args...)...)
}
