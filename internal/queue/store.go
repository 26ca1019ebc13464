package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"edusocial/apps/rag/internal/content"
)

// Store is the Postgres-backed ingestion queue. Claiming relies on
// FOR UPDATE SKIP LOCKED so concurrent workers never take the same item.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const itemColumns = `id, content_type, content_id, text, content_hash, priority, status,
	retry_count, max_retries, COALESCE(error_message, ''), scheduled_at, processing_started_at, created_at, updated_at`

// Enqueue inserts a new work item. A duplicate of a non-terminal item
// (same content type, id, and hash) is silently skipped, making the call
// idempotent.
func (s *Store) Enqueue(ctx context.Context, contentType content.Type, contentID, text string, priority int) error {
	if !contentType.Valid() {
		return fmt.Errorf("%w: unknown content type %q", ErrValidation, contentType)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty text", ErrValidation)
	}
	if contentID == "" {
		return fmt.Errorf("%w: empty content id", ErrValidation)
	}

	query := `
		INSERT INTO embedding_queue (content_type, content_id, text, content_hash, priority, status, max_retries)
		VALUES ($1, $2, $3, $4, $5, 'queued', $6)
		ON CONFLICT (content_type, content_id, content_hash) WHERE status IN ('queued', 'processing')
		DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, contentType, contentID, text, Hash(text), priority, DefaultMaxRetries)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s/%s: %w", contentType, contentID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		slog.DebugContext(ctx, "duplicate enqueue skipped", "content_type", contentType, "content_id", contentID)
	}
	return nil
}

// ClaimBatch atomically moves up to n due items from queued to processing,
// ordered by priority then schedule time.
func (s *Store) ClaimBatch(ctx context.Context, n int) ([]Item, error) {
	query := fmt.Sprintf(`
		UPDATE embedding_queue
		SET status = 'processing', processing_started_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM embedding_queue
			WHERE status = 'queued' AND scheduled_at <= NOW()
			ORDER BY priority ASC, scheduled_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, itemColumns)

	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue batch: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// Complete marks a processing item done.
func (s *Store) Complete(ctx context.Context, id int64) error {
	query := `UPDATE embedding_queue SET status = 'completed', updated_at = NOW() WHERE id = $1 AND status = 'processing'`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to complete queue item %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("queue item %d not in processing state", id)
	}
	return nil
}

// Fail records a processing failure. Items with retries left go back to
// queued with an exponential backoff schedule; exhausted items become
// terminally failed with the reason kept for operators.
func (s *Store) Fail(ctx context.Context, id int64, reason string) (Status, error) {
	query := `
		UPDATE embedding_queue
		SET retry_count = retry_count + 1,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'queued' END,
		    scheduled_at = CASE WHEN retry_count + 1 >= max_retries THEN scheduled_at
		                        ELSE NOW() + make_interval(mins => CAST(POWER(2, retry_count) AS int)) END,
		    processing_started_at = NULL,
		    error_message = $2,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING status`

	var status Status
	if err := s.db.QueryRowContext(ctx, query, id, reason).Scan(&status); err != nil {
		return "", fmt.Errorf("failed to fail queue item %d: %w", id, err)
	}

	if status == StatusFailed {
		slog.WarnContext(ctx, "queue item exhausted retries", "item_id", id, "reason", reason)
	}
	return status, nil
}

// ReclaimStale returns processing items whose claim is older than the
// threshold back to queued. Covers worker crashes and hung batches.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE embedding_queue
		SET status = 'queued', processing_started_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND processing_started_at < NOW() - make_interval(secs => $1)`

	res, err := s.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale queue items: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "reclaimed stale queue items", "count", n)
	}
	return n, nil
}

// RequeueFailed gives old failed items another round of retries, bounded
// by limit to avoid reprocessing storms.
func (s *Store) RequeueFailed(ctx context.Context, olderThan time.Duration, limit int) (int64, error) {
	query := `
		UPDATE embedding_queue
		SET status = 'queued', retry_count = 0, error_message = NULL, scheduled_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM embedding_queue
			WHERE status = 'failed' AND updated_at < NOW() - make_interval(secs => $1)
			ORDER BY updated_at ASC
			LIMIT $2
		)`

	res, err := s.db.ExecContext(ctx, query, olderThan.Seconds(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Counts returns the per-status totals.
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM embedding_queue GROUP BY status`)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to read queue counts: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("failed to scan queue counts: %w", err)
		}
		switch status {
		case StatusQueued:
			c.Queued = n
		case StatusProcessing:
			c.Processing = n
		case StatusCompleted:
			c.Completed = n
		case StatusFailed:
			c.Failed = n
		}
		c.Total += n
	}
	return c, rows.Err()
}

// Cleanup deletes terminal items older than the retention window.
func (s *Store) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM embedding_queue
		WHERE status IN ('completed', 'failed') AND updated_at < NOW() - make_interval(secs => $1)`

	res, err := s.db.ExecContext(ctx, query, retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to clean up queue: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "cleaned up terminal queue items", "count", n)
	}
	return n, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		var it Item
		var started sql.NullTime
		if err := rows.Scan(&it.ID, &it.ContentType, &it.ContentID, &it.Text, &it.ContentHash,
			&it.Priority, &it.Status, &it.RetryCount, &it.MaxRetries, &it.ErrorMessage,
			&it.ScheduledAt, &started, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		if started.Valid {
			t := started.Time
			it.ProcessingStartedAt = &t
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
