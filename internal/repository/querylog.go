package repository

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/tracelog"
)

// NewQueryTracer logs pgx queries at or above level ("trace" through
// "error", or "none") to log. Unknown levels fall back to warn.
func NewQueryTracer(log *slog.Logger, level string) *tracelog.TraceLog {
	lvl, err := tracelog.LogLevelFromString(level)
	if err != nil {
		lvl = tracelog.LogLevelWarn
	}
	return &tracelog.TraceLog{
		Logger:   slogAdapter{log: log.With("component", "pgx")},
		LogLevel: lvl,
	}
}

type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	attrs := make([]slog.Attr, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, slog.Any(k, v))
	}
	a.log.LogAttrs(ctx, slogLevel(level), msg, attrs...)
}

func slogLevel(level tracelog.LogLevel) slog.Level {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return slog.LevelDebug
	case tracelog.LogLevelInfo:
		return slog.LevelInfo
	case tracelog.LogLevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
