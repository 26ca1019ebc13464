package stats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"edusocial/apps/rag/internal/credential"
	"edusocial/apps/rag/internal/middleware"
	"edusocial/apps/rag/internal/queue"
	"edusocial/apps/rag/internal/vector"
)

type QueueCounter interface {
	Counts(ctx context.Context) (queue.Counts, error)
}

type EmbeddingStore interface {
	Stats(ctx context.Context) (vector.Stats, error)
}

type CacheStats interface {
	CacheStats() (hits, misses int64)
}

type CredentialPool interface {
	Status() []credential.Status
	Reset(name string) error
}

// Handler serves the operational surface: queue status, embedding corpus
// stats, and credential pool health. None of this is on the hot path.
type Handler struct {
	queue QueueCounter
	store EmbeddingStore
	cache CacheStats
	pool  CredentialPool
}

func NewHandler(q QueueCounter, s EmbeddingStore, c CacheStats, p CredentialPool) *Handler {
	return &Handler{queue: q, store: s, cache: c, pool: p}
}

func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.queue.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read queue status", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read queue status", http.StatusInternalServerError)
		return
	}

	h.writeData(ctx, w, counts)
}

type embeddingStatsResponse struct {
	vector.Stats
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
}

func (h *Handler) EmbeddingStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.store.Stats(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to read embedding stats", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to read embedding stats", http.StatusInternalServerError)
		return
	}

	resp := embeddingStatsResponse{Stats: stats}
	if h.cache != nil {
		resp.CacheHits, resp.CacheMisses = h.cache.CacheStats()
	}
	h.writeData(ctx, w, resp)
}

func (h *Handler) CredentialStatus(w http.ResponseWriter, r *http.Request) {
	h.writeData(r.Context(), w, h.pool.Status())
}

func (h *Handler) ResetCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.PathValue("name")

	if err := h.pool.Reset(name); err != nil {
		if errors.Is(err, credential.ErrUnknownCredential) {
			h.writeError(ctx, w, "NOT_FOUND", "unknown credential", http.StatusNotFound)
			return
		}
		slog.ErrorContext(ctx, "failed to reset credential", "error", err, "credential", name)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to reset credential", http.StatusInternalServerError)
		return
	}

	slog.InfoContext(ctx, "credential reset", "credential", name)
	h.writeData(ctx, w, map[string]string{"status": "reset"})
}

func (h *Handler) writeData(ctx context.Context, w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
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
