package worker

import (
	"context"
	"time"

	"edusocial/apps/rag/internal/chunker"
	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
	"edusocial/apps/rag/internal/queue"
)

type enqueuedItem struct {
	contentType content.Type
	contentID   string
	text        string
	priority    int
}

type fakeQueue struct {
	items      []queue.Item
	claimErr   error
	enqueueErr error
	failStatus queue.Status

	enqueued  []enqueuedItem
	completed []int64
	failed    map[int64]string
}

func newFakeQueue(items ...queue.Item) *fakeQueue {
	return &fakeQueue{items: items, failStatus: queue.StatusQueued, failed: make(map[int64]string)}
}

func (f *fakeQueue) Enqueue(ctx context.Context, ct content.Type, contentID, text string, priority int) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, enqueuedItem{ct, contentID, text, priority})
	return nil
}

func (f *fakeQueue) ClaimBatch(ctx context.Context, n int) ([]queue.Item, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	items := f.items
	f.items = nil
	return items, nil
}

func (f *fakeQueue) Complete(ctx context.Context, id int64) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueue) Fail(ctx context.Context, id int64, reason string) (queue.Status, error) {
	f.failed[id] = reason
	return f.failStatus, nil
}

func (f *fakeQueue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeQueue) RequeueFailed(ctx context.Context, olderThan time.Duration, limit int) (int64, error) {
	return 0, nil
}

func (f *fakeQueue) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return 0, nil
}

type fakeEmbedder struct {
	err    error
	e5Only bool
}

func (f *fakeEmbedder) EmbedDualBatch(ctx context.Context, texts []string) ([]embedding.DualResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]embedding.DualResult, len(texts))
	for i := range texts {
		out[i].E5 = embedding.Result{Vector: make(embedding.Vector, embedding.DimE5), TokenCount: 5}
		if !f.e5Only {
			out[i].BGE = embedding.Result{Vector: make(embedding.Vector, embedding.DimBGE), TokenCount: 6}
		}
	}
	return out, nil
}

type storedChunk struct {
	contentType content.Type
	contentID   string
	chunk       chunker.Chunk
	dual        embedding.DualResult
}

type fakeStore struct {
	storeErr error
	stored   []storedChunk
	retired  []string
}

func (f *fakeStore) StoreChunk(ctx context.Context, ct content.Type, contentID string, ch chunker.Chunk, dual embedding.DualResult) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, storedChunk{ct, contentID, ch, dual})
	return nil
}

func (f *fakeStore) SoftDeleteByContent(ctx context.Context, ct content.Type, contentID string) (int64, error) {
	f.retired = append(f.retired, string(ct)+"/"+contentID)
	return 0, nil
}

type publishedEvent struct {
	topic string
	body  []byte
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) Publish(topic string, body []byte) error {
	f.events = append(f.events, publishedEvent{topic, body})
	return nil
}
