package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/middleware"
	"edusocial/apps/rag/internal/retrieval"
)

type Retriever interface {
	GetContext(ctx context.Context, query string, cfg retrieval.Config, contentTypes []content.Type) (retrieval.Result, error)
}

type Handler struct {
	retriever Retriever
}

func NewHandler(r Retriever) *Handler {
	return &Handler{retriever: r}
}

type contextRequest struct {
	Query              string             `json:"query"`
	ContentTypes       []string           `json:"content_types,omitempty"`
	MaxTokens          int                `json:"max_tokens,omitempty"`
	MaxChunks          int                `json:"max_chunks,omitempty"`
	MinSimilarity      float64            `json:"min_similarity,omitempty"`
	DiversityThreshold float64            `json:"diversity_threshold,omitempty"`
	IncludeMetadata    *bool              `json:"include_metadata,omitempty"`
	ContentTypeWeights map[string]float64 `json:"content_type_weights,omitempty"`
}

// GetContext assembles a context bundle for a query. Overrides in the
// request body adjust the default retrieval configuration per call.
func (h *Handler) GetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req contextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		h.writeError(ctx, w, "VALIDATION_ERROR", "query is required", http.StatusBadRequest)
		return
	}

	var types []content.Type
	for _, name := range req.ContentTypes {
		ct, err := content.Parse(name)
		if err != nil {
			h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
			return
		}
		types = append(types, ct)
	}

	cfg := retrieval.DefaultConfig()
	if req.MaxTokens > 0 {
		cfg.MaxTokens = req.MaxTokens
	}
	if req.MaxChunks > 0 {
		cfg.MaxChunks = req.MaxChunks
	}
	if req.MinSimilarity > 0 {
		cfg.MinSimilarity = req.MinSimilarity
	}
	if req.DiversityThreshold > 0 {
		cfg.DiversityThreshold = req.DiversityThreshold
	}
	if req.IncludeMetadata != nil {
		cfg.IncludeMetadata = *req.IncludeMetadata
	}
	if len(req.ContentTypeWeights) > 0 {
		cfg.ContentTypeWeights = make(map[content.Type]float64, len(req.ContentTypeWeights))
		for name, weight := range req.ContentTypeWeights {
			ct, err := content.Parse(name)
			if err != nil {
				h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
				return
			}
			cfg.ContentTypeWeights[ct] = weight
		}
	}

	result, err := h.retriever.GetContext(ctx, req.Query, cfg, types)
	if err != nil {
		slog.ErrorContext(ctx, "context retrieval failed", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to retrieve context", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": result}); err != nil {
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
