package worker

import (
	"context"
	"time"

	"edusocial/apps/rag/internal/chunker"
	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
	"edusocial/apps/rag/internal/queue"
)

type Queue interface {
	Enqueue(ctx context.Context, contentType content.Type, contentID, text string, priority int) error
	ClaimBatch(ctx context.Context, n int) ([]queue.Item, error)
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, reason string) (queue.Status, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	RequeueFailed(ctx context.Context, olderThan time.Duration, limit int) (int64, error)
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

type Chunker interface {
	Chunk(text string) []chunker.Chunk
}

type Embedder interface {
	EmbedDualBatch(ctx context.Context, texts []string) ([]embedding.DualResult, error)
}

type VectorStore interface {
	StoreChunk(ctx context.Context, ct content.Type, contentID string, ch chunker.Chunk, dual embedding.DualResult) error
	SoftDeleteByContent(ctx context.Context, ct content.Type, contentID string) (int64, error)
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}
