package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/middleware"
	"edusocial/apps/rag/internal/queue"
)

const defaultPriority = 5

type Queue interface {
	Enqueue(ctx context.Context, contentType content.Type, contentID, text string, priority int) error
}

type Handler struct {
	queue Queue
}

func NewHandler(q Queue) *Handler {
	return &Handler{queue: q}
}

type enqueueRequest struct {
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id"`
	Text        string `json:"text"`
	Priority    int    `json:"priority"`
}

// Enqueue accepts content for embedding. Duplicate submissions of
// identical content are acknowledged without creating new work.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}

	ct, err := content.Parse(req.ContentType)
	if err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	priority := req.Priority
	if priority <= 0 {
		priority = defaultPriority
	}

	if err := h.queue.Enqueue(ctx, ct, req.ContentID, req.Text, priority); err != nil {
		if errors.Is(err, queue.ErrValidation) {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(ctx, "enqueue failed", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to enqueue content", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "content enqueued", "content_type", ct, "content_id", req.ContentID, "priority", priority)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]string{"status": "queued"},
	}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
