// Package logging provides the operational logger (slog-based, level and
// format controlled by config) and the verb-call structured log (VerbLog,
// see verblog.go) used by cmd/cc's HTTP verb router.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

var (
	opLogger atomic.Pointer[slog.Logger]
	logLevel = new(slog.LevelVar)
)

func init() {
	logLevel.Set(slog.LevelInfo)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	opLogger.Store(slog.New(handler).With("service", "cc"))
}

// Op returns the operational logger for daemon/monitor/power-state events.
// Separate from the verb-call Logger, which logs individual CLC invocations.
func Op() *slog.Logger {
	return opLogger.Load()
}

// SetLevel changes the log level for the operational logger.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetLevelFromString sets the level from the LOGLEVEL config value:
// DEBUG / INFO / WARN / ERROR / FATAL (FATAL maps to Error — slog has no
// separate fatal level, the caller exits the process itself).
func SetLevelFromString(level string) {
	switch level {
	case "debug", "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "info", "INFO":
		logLevel.Set(slog.LevelInfo)
	case "warn", "WARN", "warning", "WARNING":
		logLevel.Set(slog.LevelWarn)
	case "error", "ERROR", "fatal", "FATAL":
		logLevel.Set(slog.LevelError)
	}
}

// InitStructured reconfigures the operational logger based on config
// settings (format: "text" or "json"; level: LOGLEVEL value). Replaces the
// init()-installed default handler once cmd/cc has loaded its config, so
// the "service":"cc" tag carries over into whichever format was chosen.
func InitStructured(format, level string) {
	SetLevelFromString(level)

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	opLogger.Store(slog.New(handler).With("service", "cc"))
}

// OpWithTrace returns the operational logger with trace/span attributes
// injected, so a log line written under an OpenTelemetry span carries the
// span's identifiers. No caller in this repository uses it.
func OpWithTrace(traceID, spanID string) *slog.Logger {
	l := opLogger.Load()
	if traceID == "" {
		return l
	}
	args := []any{"trace_id", traceID}
	if spanID != "" {
		args = append(args, "span_id", spanID)
	}
	return l.With(args...)
}
