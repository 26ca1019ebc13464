package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusocial/apps/rag/internal/chunker"
	"edusocial/apps/rag/internal/config"
	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/queue"
)

func testProcessor(q Queue, e Embedder, s VectorStore, pub Publisher) *Processor {
	c := chunker.New(chunker.Config{MaxChunkSize: 1000, MinChunkSize: 100, OverlapSize: 50})
	return NewProcessor(q, c, e, s, pub, ProcessorConfig{
		BatchSize:            10,
		Interval:             time.Millisecond,
		MaxConcurrentBatches: 2,
		StaleAfter:           10 * time.Minute,
		FailedRequeueAfter:   24 * time.Hour,
		Retention:            7 * 24 * time.Hour,
	})
}

func TestProcessBatchShortPost(t *testing.T) {
	q := newFakeQueue(queue.Item{
		ID:          1,
		ContentType: content.TypePost,
		ContentID:   "42",
		Text:        "A short post about learning Go generics today",
	})
	store := &fakeStore{}
	pub := &fakePublisher{}

	p := testProcessor(q, &fakeEmbedder{}, store, pub)
	p.ProcessBatch(context.Background())

	assert.Equal(t, []int64{1}, q.completed)
	assert.Empty(t, q.failed)

	// A sub-minimum-size document yields exactly one chunk.
	require.Len(t, store.stored, 1)
	assert.Equal(t, content.TypePost, store.stored[0].contentType)
	assert.Equal(t, "42", store.stored[0].contentID)
	assert.Equal(t, []string{"post/42"}, store.retired)

	require.Len(t, pub.events, 1)
	assert.Equal(t, config.TopicEmbedResult, pub.events[0].topic)
	var payload EmbedResultPayload
	require.NoError(t, json.Unmarshal(pub.events[0].body, &payload))
	assert.Equal(t, "completed", payload.Status)
	assert.Equal(t, 1, payload.ChunkCount)
}

func TestProcessBatchStoresPartialEmbeddings(t *testing.T) {
	q := newFakeQueue(queue.Item{
		ID:          2,
		ContentType: content.TypePost,
		ContentID:   "43",
		Text:        "A post that still gets indexed when one model is down",
	})
	store := &fakeStore{}
	pub := &fakePublisher{}

	p := testProcessor(q, &fakeEmbedder{e5Only: true}, store, pub)
	p.ProcessBatch(context.Background())

	// One healthy model is enough: the item completes with e5-only rows.
	assert.Equal(t, []int64{2}, q.completed)
	assert.Empty(t, q.failed)
	require.Len(t, store.stored, 1)
	assert.NotEmpty(t, store.stored[0].dual.E5.Vector)
	assert.Empty(t, store.stored[0].dual.BGE.Vector)
}

func TestProcessBatchEmbeddingFailureRetries(t *testing.T) {
	q := newFakeQueue(queue.Item{ID: 7, ContentType: content.TypeLesson, ContentID: "3", Text: "lesson body text"})
	pub := &fakePublisher{}

	p := testProcessor(q, &fakeEmbedder{err: errors.New("upstream timeout")}, &fakeStore{}, pub)
	p.ProcessBatch(context.Background())

	assert.Empty(t, q.completed)
	assert.Contains(t, q.failed[7], "embedding failed")
	// Item went back to queued, so no terminal event yet.
	assert.Empty(t, pub.events)
}

func TestProcessBatchTerminalFailurePublishes(t *testing.T) {
	q := newFakeQueue(queue.Item{ID: 8, ContentType: content.TypePost, ContentID: "9", Text: "post body text"})
	q.failStatus = queue.StatusFailed
	pub := &fakePublisher{}

	p := testProcessor(q, &fakeEmbedder{err: errors.New("upstream down")}, &fakeStore{}, pub)
	p.ProcessBatch(context.Background())

	require.Len(t, pub.events, 1)
	var payload EmbedResultPayload
	require.NoError(t, json.Unmarshal(pub.events[0].body, &payload))
	assert.Equal(t, "failed", payload.Status)
	assert.Contains(t, payload.Error, "upstream down")
}

func TestProcessBatchBlankTextFails(t *testing.T) {
	q := newFakeQueue(queue.Item{ID: 2, ContentType: content.TypePost, ContentID: "1", Text: "   \n  "})

	p := testProcessor(q, &fakeEmbedder{}, &fakeStore{}, &fakePublisher{})
	p.ProcessBatch(context.Background())

	assert.Contains(t, q.failed[2], "no chunks")
}

func TestProcessBatchStoreFailure(t *testing.T) {
	q := newFakeQueue(queue.Item{ID: 3, ContentType: content.TypePost, ContentID: "5", Text: "post needing storage"})
	store := &fakeStore{storeErr: errors.New("disk full")}

	p := testProcessor(q, &fakeEmbedder{}, store, &fakePublisher{})
	p.ProcessBatch(context.Background())

	assert.Empty(t, q.completed)
	assert.Contains(t, q.failed[3], "failed to store chunk")
}

func TestProcessBatchItemsAreIndependent(t *testing.T) {
	q := newFakeQueue(
		queue.Item{ID: 1, ContentType: content.TypePost, ContentID: "1", Text: "  "},
		queue.Item{ID: 2, ContentType: content.TypePost, ContentID: "2", Text: "a healthy post body"},
	)
	store := &fakeStore{}

	p := testProcessor(q, &fakeEmbedder{}, store, &fakePublisher{})
	p.ProcessBatch(context.Background())

	assert.Contains(t, q.failed, int64(1))
	assert.Equal(t, []int64{2}, q.completed)
}

func TestRunStopsOnCancel(t *testing.T) {
	q := newFakeQueue()
	p := testProcessor(q, &fakeEmbedder{}, &fakeStore{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("processor did not stop on cancel")
	}
}
