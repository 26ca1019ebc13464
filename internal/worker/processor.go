package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"edusocial/apps/rag/internal/config"
	"edusocial/apps/rag/internal/queue"
)

type ProcessorConfig struct {
	BatchSize            int
	Interval             time.Duration
	MaxConcurrentBatches int
	StaleAfter           time.Duration
	FailedRequeueAfter   time.Duration
	RequeueLimit         int
	Retention            time.Duration
}

// Processor drains the ingestion queue on a fixed interval: claim a
// batch, chunk each item, embed the chunks under both models, persist
// them, and mark the item complete or failed. In-flight batches are
// bounded by a semaphore; a tick that finds the ceiling reached is
// skipped rather than queued.
type Processor struct {
	queue     Queue
	chunker   Chunker
	embedder  Embedder
	store     VectorStore
	publisher Publisher
	cfg       ProcessorConfig
	sem       chan struct{}
}

func NewProcessor(q Queue, c Chunker, e Embedder, s VectorStore, pub Publisher, cfg ProcessorConfig) *Processor {
	if cfg.MaxConcurrentBatches <= 0 {
		cfg.MaxConcurrentBatches = 1
	}
	if cfg.RequeueLimit <= 0 {
		cfg.RequeueLimit = 100
	}
	return &Processor{
		queue:     q,
		chunker:   c,
		embedder:  e,
		store:     s,
		publisher: pub,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrentBatches),
	}
}

// Run blocks until ctx is cancelled. Maintenance (stale reclaim, failed
// requeue, retention cleanup) runs on its own slower cadence.
func (p *Processor) Run(ctx context.Context) {
	slog.InfoContext(ctx, "queue processor started",
		"batch_size", p.cfg.BatchSize, "interval", p.cfg.Interval, "max_batches", p.cfg.MaxConcurrentBatches)

	tick := time.NewTicker(p.cfg.Interval)
	defer tick.Stop()
	maint := time.NewTicker(time.Minute)
	defer maint.Stop()

	hourlyAt := time.Now().Add(time.Hour)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "queue processor stopping")
			return
		case <-tick.C:
			select {
			case p.sem <- struct{}{}:
				go func() {
					defer func() { <-p.sem }()
					p.ProcessBatch(ctx)
				}()
			default:
				slog.DebugContext(ctx, "batch concurrency ceiling reached, skipping tick")
			}
		case <-maint.C:
			if _, err := p.queue.ReclaimStale(ctx, p.cfg.StaleAfter); err != nil {
				slog.ErrorContext(ctx, "stale reclaim failed", "error", err)
			}
			if time.Now().After(hourlyAt) {
				hourlyAt = time.Now().Add(time.Hour)
				p.hourlyMaintenance(ctx)
			}
		}
	}
}

func (p *Processor) hourlyMaintenance(ctx context.Context) {
	if _, err := p.queue.RequeueFailed(ctx, p.cfg.FailedRequeueAfter, p.cfg.RequeueLimit); err != nil {
		slog.ErrorContext(ctx, "failed-item requeue failed", "error", err)
	}
	if _, err := p.queue.Cleanup(ctx, p.cfg.Retention); err != nil {
		slog.ErrorContext(ctx, "queue cleanup failed", "error", err)
	}
}

// ProcessBatch claims and processes one batch. Items are independent, so
// one item's failure never aborts the rest.
func (p *Processor) ProcessBatch(ctx context.Context) {
	items, err := p.queue.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to claim queue batch", "error", err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.InfoContext(ctx, "processing queue batch", "count", len(items))
	for _, item := range items {
		p.processItem(ctx, item)
	}
}

func (p *Processor) processItem(ctx context.Context, item queue.Item) {
	chunks := p.chunker.Chunk(item.Text)
	if len(chunks) == 0 {
		p.failItem(ctx, item, "chunking produced no chunks")
		return
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	duals, err := p.embedder.EmbedDualBatch(ctx, texts)
	if err != nil {
		p.failItem(ctx, item, fmt.Sprintf("embedding failed: %v", err))
		return
	}

	// Retire the previous version's chunks before inserting the new ones.
	if _, err := p.store.SoftDeleteByContent(ctx, item.ContentType, item.ContentID); err != nil {
		p.failItem(ctx, item, fmt.Sprintf("failed to retire old chunks: %v", err))
		return
	}

	for i, ch := range chunks {
		if err := p.store.StoreChunk(ctx, item.ContentType, item.ContentID, ch, duals[i]); err != nil {
			p.failItem(ctx, item, fmt.Sprintf("failed to store chunk %d: %v", i, err))
			return
		}
	}

	if err := p.queue.Complete(ctx, item.ID); err != nil {
		slog.ErrorContext(ctx, "failed to mark item complete", "item_id", item.ID, "error", err)
		return
	}

	slog.InfoContext(ctx, "content embedded",
		"content_type", item.ContentType, "content_id", item.ContentID, "chunks", len(chunks))
	p.publishResult(ctx, item, string(queue.StatusCompleted), len(chunks), "")
}

func (p *Processor) failItem(ctx context.Context, item queue.Item, reason string) {
	slog.WarnContext(ctx, "queue item failed",
		"item_id", item.ID, "content_type", item.ContentType, "content_id", item.ContentID, "reason", reason)

	status, err := p.queue.Fail(ctx, item.ID, reason)
	if err != nil {
		slog.ErrorContext(ctx, "failed to record item failure", "item_id", item.ID, "error", err)
		return
	}
	if status == queue.StatusFailed {
		p.publishResult(ctx, item, string(queue.StatusFailed), 0, reason)
	}
}

// publishResult emits a terminal-state event, best effort.
func (p *Processor) publishResult(ctx context.Context, item queue.Item, status string, chunkCount int, errMsg string) {
	if p.publisher == nil {
		return
	}

	body, err := json.Marshal(EmbedResultPayload{
		ContentType: string(item.ContentType),
		ContentID:   item.ContentID,
		Status:      status,
		ChunkCount:  chunkCount,
		Error:       errMsg,
	})
	if err != nil {
		return
	}
	if err := p.publisher.Publish(config.TopicEmbedResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish embed result", "error", err)
	}
}
