package observability

import (
	"context"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/tablerag/tablerag/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// maxLoggedSQL caps the synthesized statements copied into log records.
const maxLoggedSQL = 2048

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{Level: cfg.Observability.LogLevel, ReplaceAttr: truncateSQL}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	} else {
		handler = slog.NewTextHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func truncateSQL(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key != "sql" || attr.Value.Kind() != slog.KindString {
		return attr
	}
	value := attr.Value.String()
	if len(value) <= maxLoggedSQL {
		return attr
	}
	cut := maxLoggedSQL
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return slog.String(attr.Key, value[:cut]+"...")
}

// LoggerFromContext returns base tagged with the trace id carried by ctx.
func LoggerFromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		return base.With(slog.String("trace_id", traceID))
	}
	return base
}

func WithSession(logger *slog.Logger, sessionID string) *slog.Logger {
	return logger.With(slog.String("session_id", sessionID))
}

func WithBuild(logger *slog.Logger, buildID string) *slog.Logger {
	return logger.With(slog.String("build_id", buildID))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
