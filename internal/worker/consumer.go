package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/middleware"
	"edusocial/apps/rag/internal/queue"
)

// ContentConsumer feeds content.update events from the platform into the
// ingestion queue.
type ContentConsumer struct {
	queue Queue
}

func NewContentConsumer(q Queue) *ContentConsumer {
	return &ContentConsumer{queue: q}
}

func (h *ContentConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload ContentUpdatePayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison pill: invalid JSON, don't retry
		slog.Error("poison pill: invalid content update payload", "error", err)
		return nil
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	ct, err := content.Parse(payload.ContentType)
	if err != nil {
		slog.ErrorContext(ctx, "poison pill: unknown content type", "content_type", payload.ContentType)
		return nil
	}

	if err := h.queue.Enqueue(ctx, ct, payload.ContentID, payload.Text, payload.Priority); err != nil {
		if errors.Is(err, queue.ErrValidation) {
			slog.ErrorContext(ctx, "poison pill: invalid content update", "error", err)
			return nil
		}
		slog.ErrorContext(ctx, "failed to enqueue content update", "error", err)
		return err // Retry
	}

	slog.InfoContext(ctx, "content update queued", "content_type", ct, "content_id", payload.ContentID)
	return nil
}
