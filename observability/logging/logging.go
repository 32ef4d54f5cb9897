package logging

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

// Setup configures the standard library logger to emit structured JSON on w
// and returns the slog.Logger for the daemon. All log lines include the
// service name and environment when provided.
func Setup(w io.Writer, service, env, level string) *slog.Logger {
	logger, handler := New(w, service, env, level)
	slog.SetDefault(logger)

	// Bridge the standard library logger so packages using log still emit JSON.
	stdBridge := slog.NewLogLogger(handler, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return logger
}

// New builds a JSON logger writing to w without touching process globals.
// Attributes whose keys name credentials are redacted.
func New(w io.Writer, service, env, level string) (*slog.Logger, slog.Handler) {
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return redact(attr)
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler = handler.WithAttrs(attrs)
	return slog.New(handler), handler
}

// ParseLevel maps a textual level to slog. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
