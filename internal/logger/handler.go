package logger

import (
	"context"
	"log/slog"
	"os"

	"edusocial/apps/rag/internal/middleware"
)

// ContextHandler decorates a slog.Handler with the request correlation id
// so every log line emitted through a request context carries it.
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ctx.Value(middleware.CorrelationKey).(string); ok && id != "" {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

// Setup installs the JSON context-aware logger as the process default.
func Setup() {
	handler := NewContextHandler(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(slog.New(handler))
}
