package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
)

// Default model weights. The larger model carries more weight since it is
// used as the reranking signal.
const (
	DefaultWeightE5  = 0.4
	DefaultWeightBGE = 0.6

	minCandidatePool = 50
	poolMultiplier   = 4
)

// ErrNoQueryVector means neither model produced a query embedding.
var ErrNoQueryVector = errors.New("no query vector")

type SearchOptions struct {
	ContentTypes  []content.Type
	Limit         int
	MinSimilarity float64
	WeightE5      float64
	WeightBGE     float64
}

// Hit is one search result with per-model and combined similarity.
type Hit struct {
	ID              int64
	PublicID        string
	ContentType     content.Type
	ContentID       string
	ChunkIndex      int
	Text            string
	ChunkType       string
	HierarchyLevel  int
	SectionTitle    string
	WordCount       int
	SemanticDensity float64
	SimilarityE5    float64
	SimilarityBGE   float64
	HasBGE          bool
	Combined        float64
}

// CombineScores merges per-model similarities under the given weights,
// renormalizing when only one model's vector exists for a candidate.
func CombineScores(simE5, simBGE float64, hasE5, hasBGE bool, wE5, wBGE float64) float64 {
	switch {
	case hasE5 && hasBGE:
		return wE5*simE5 + wBGE*simBGE
	case hasE5:
		return simE5
	case hasBGE:
		return simBGE
	default:
		return 0
	}
}

// HybridSearch runs the two-stage dual-model search: a broad pass over the
// cheap model's vectors, then a rerank of just those candidates with the
// larger model. Either query vector may be absent: with no bge vector the
// rerank is skipped and scores renormalize to e5 alone; with no e5 vector
// the broad pass runs over the bge column directly. Stage 2 is skipped
// when the caller has gone away.
func (s *Store) HybridSearch(ctx context.Context, queryE5, queryBGE embedding.Vector, opts SearchOptions) ([]Hit, error) {
	if len(queryE5) == 0 && len(queryBGE) == 0 {
		return nil, ErrNoQueryVector
	}
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.WeightE5 == 0 && opts.WeightBGE == 0 {
		opts.WeightE5, opts.WeightBGE = DefaultWeightE5, DefaultWeightBGE
	}

	pool := opts.Limit * poolMultiplier
	if pool < minCandidatePool {
		pool = minCandidatePool
	}

	broadBGE := len(queryE5) == 0
	broadVec := queryE5
	if broadBGE {
		broadVec = queryBGE
	}

	hits, err := s.broadSearch(ctx, broadVec, broadBGE, opts.ContentTypes, pool)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reranked := broadBGE
	if !broadBGE && len(queryBGE) > 0 {
		if err := s.stageTwo(ctx, queryBGE, hits); err != nil {
			return nil, err
		}
		reranked = true
	}

	for i := range hits {
		hits[i].Combined = CombineScores(hits[i].SimilarityE5, hits[i].SimilarityBGE,
			!broadBGE, reranked && hits[i].HasBGE, opts.WeightE5, opts.WeightBGE)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Combined > hits[j].Combined })

	out := hits[:0]
	for _, h := range hits {
		if h.Combined >= opts.MinSimilarity {
			out = append(out, h)
		}
		if len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) broadSearch(ctx context.Context, queryVec embedding.Vector, useBGE bool, types []content.Type, pool int) ([]Hit, error) {
	col := "embedding_e5"
	if useBGE {
		col = "embedding_bge"
	}
	query := fmt.Sprintf(`
		SELECT id, public_id, content_type, content_id, chunk_index, text,
		       chunk_type, hierarchy_level, COALESCE(section_title, ''), word_count, semantic_density,
		       1 - (%[1]s <=> $1) AS sim,
		       embedding_bge IS NOT NULL
		FROM embeddings
		WHERE NOT is_deleted AND %[1]s IS NOT NULL`, col)
	args := []any{pgvector.NewVector(queryVec)}

	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		query += ` AND content_type = ANY($2)`
		args = append(args, pq.Array(names))
	}
	query += fmt.Sprintf(` ORDER BY %s <=> $1 LIMIT %d`, col, pool)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var sim float64
		if err := rows.Scan(&h.ID, &h.PublicID, &h.ContentType, &h.ContentID, &h.ChunkIndex, &h.Text,
			&h.ChunkType, &h.HierarchyLevel, &h.SectionTitle, &h.WordCount, &h.SemanticDensity,
			&sim, &h.HasBGE); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		if useBGE {
			h.SimilarityBGE = sim
		} else {
			h.SimilarityE5 = sim
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) stageTwo(ctx context.Context, queryBGE embedding.Vector, hits []Hit) error {
	ids := make([]int64, 0, len(hits))
	byID := make(map[int64]*Hit, len(hits))
	for i := range hits {
		if hits[i].HasBGE {
			ids = append(ids, hits[i].ID)
			byID[hits[i].ID] = &hits[i]
		}
	}
	if len(ids) == 0 {
		return nil
	}

	query := `
		SELECT id, 1 - (embedding_bge <=> $1)
		FROM embeddings
		WHERE id = ANY($2) AND embedding_bge IS NOT NULL`

	rows, err := s.db.QueryContext(ctx, query, pgvector.NewVector(queryBGE), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("rerank query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var sim float64
		if err := rows.Scan(&id, &sim); err != nil {
			return fmt.Errorf("failed to scan rerank score: %w", err)
		}
		if h, ok := byID[id]; ok {
			h.SimilarityBGE = sim
		}
	}
	return rows.Err()
}
