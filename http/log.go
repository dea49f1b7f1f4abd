package http

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// callbackHandler offers warnings and errors to the LogMessage callback
// before they reach the wrapped handler. A callback returning true consumes
// the record.
type callbackHandler struct {
	next slog.Handler
	sink func(level slog.Level, msg string) bool
}

func (h callbackHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelWarn || h.next.Enabled(ctx, level)
}

func (h callbackHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn && h.sink(record.Level, record.Message) {
		return nil
	}
	if !h.next.Enabled(ctx, record.Level) {
		return nil
	}
	return h.next.Handle(ctx, record)
}

func (h callbackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return callbackHandler{next: h.next.WithAttrs(attrs), sink: h.sink}
}

func (h callbackHandler) WithGroup(name string) slog.Handler {
	return callbackHandler{next: h.next.WithGroup(name), sink: h.sink}
}

func newLogger(base *slog.Logger, sink func(slog.Level, string) bool) *slog.Logger {
	if base == nil {
		base = otelslog.NewLogger(instrumentationName)
	}
	if sink == nil {
		return base
	}
	return slog.New(callbackHandler{next: base.Handler(), sink: sink})
}
