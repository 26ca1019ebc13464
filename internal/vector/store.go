package vector

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"edusocial/apps/rag/internal/chunker"
	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
)

// Store persists chunks with their dual-model embeddings in Postgres via
// pgvector. Rows are soft-deleted, never physically removed on the hot
// path.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// StoreChunk inserts one chunk and its vectors. A chunk with neither
// vector is unsearchable and therefore rejected.
func (s *Store) StoreChunk(ctx context.Context, ct content.Type, contentID string, ch chunker.Chunk, dual embedding.DualResult) error {
	if len(dual.E5.Vector) == 0 && len(dual.BGE.Vector) == 0 {
		return fmt.Errorf("chunk %s/%s[%d] has no embeddings", ct, contentID, ch.Index)
	}

	query := `
		INSERT INTO embeddings (
			public_id, content_type, content_id, chunk_index, text,
			chunk_type, hierarchy_level, section_title, key_terms,
			sentence_count, word_count, semantic_density,
			has_code, has_table, has_list, language,
			embedding_e5, embedding_bge, token_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	var e5, bge any
	if len(dual.E5.Vector) > 0 {
		e5 = pgvector.NewVector(dual.E5.Vector)
	}
	if len(dual.BGE.Vector) > 0 {
		bge = pgvector.NewVector(dual.BGE.Vector)
	}

	tokenCount := dual.E5.TokenCount
	if dual.BGE.TokenCount > tokenCount {
		tokenCount = dual.BGE.TokenCount
	}

	_, err := s.db.ExecContext(ctx, query,
		uuid.New(), ct, contentID, ch.Index, ch.Text,
		ch.Type, ch.HierarchyLevel, ch.SectionTitle, pq.Array(ch.KeyTerms),
		ch.SentenceCount, ch.WordCount, ch.SemanticDensity,
		ch.HasCode, ch.HasTable, ch.HasList, ch.Language,
		e5, bge, tokenCount,
	)
	if err != nil {
		return fmt.Errorf("failed to store chunk %s/%s[%d]: %w", ct, contentID, ch.Index, err)
	}
	return nil
}

// SoftDeleteByContent retires every live chunk of a content item, called
// before re-ingesting updated content.
func (s *Store) SoftDeleteByContent(ctx context.Context, ct content.Type, contentID string) (int64, error) {
	query := `UPDATE embeddings SET is_deleted = TRUE, updated_at = NOW()
		WHERE content_type = $1 AND content_id = $2 AND NOT is_deleted`

	res, err := s.db.ExecContext(ctx, query, ct, contentID)
	if err != nil {
		return 0, fmt.Errorf("failed to soft-delete chunks for %s/%s: %w", ct, contentID, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "retired stale chunks", "content_type", ct, "content_id", contentID, "count", n)
	}
	return n, nil
}

// Stats summarizes the live corpus for the embedding stats endpoint.
type Stats struct {
	Total         int                  `json:"total"`
	ByContentType map[content.Type]int `json:"by_content_type"`
	WithE5        int                  `json:"with_e5"`
	WithBGE       int                  `json:"with_bge"`
	Deleted       int                  `json:"deleted"`
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByContentType: make(map[content.Type]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_type, COUNT(*),
		       COUNT(embedding_e5), COUNT(embedding_bge)
		FROM embeddings WHERE NOT is_deleted GROUP BY content_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read embedding stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ct content.Type
		var total, withE5, withBGE int
		if err := rows.Scan(&ct, &total, &withE5, &withBGE); err != nil {
			return Stats{}, fmt.Errorf("failed to scan embedding stats: %w", err)
		}
		stats.ByContentType[ct] = total
		stats.Total += total
		stats.WithE5 += withE5
		stats.WithBGE += withBGE
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE is_deleted`).Scan(&stats.Deleted); err != nil {
		return Stats{}, fmt.Errorf("failed to count deleted embeddings: %w", err)
	}
	return stats, nil
}
