package vector_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusocial/apps/rag/internal/chunker"
	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
	"edusocial/apps/rag/internal/testutils"
	"edusocial/apps/rag/internal/vector"
)

// axisVector returns a unit vector along the given axis, so cosine
// similarities in assertions are exactly 1 or 0.
func axisVector(dim, axis int) embedding.Vector {
	v := make(embedding.Vector, dim)
	v[axis] = 1
	return v
}

func dualFor(axis int) embedding.DualResult {
	return embedding.DualResult{
		E5:  embedding.Result{Vector: axisVector(embedding.DimE5, axis), TokenCount: 10},
		BGE: embedding.Result{Vector: axisVector(embedding.DimBGE, axis), TokenCount: 12},
	}
}

func TestVectorStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	store := vector.NewStore(s.DB)
	ctx := context.Background()

	chunks := []chunker.Chunk{
		{Text: "Recursion is a function calling itself.", Index: 0, Type: chunker.TypeParagraph, HierarchyLevel: 2, KeyTerms: []string{"recursion"}, WordCount: 6},
		{Text: "Dynamic programming caches subproblem results.", Index: 1, Type: chunker.TypeParagraph, HierarchyLevel: 2, KeyTerms: []string{"dynamic", "programming"}, WordCount: 5},
	}

	require.NoError(t, store.StoreChunk(ctx, content.TypeCourse, "cs101", chunks[0], dualFor(0)))
	require.NoError(t, store.StoreChunk(ctx, content.TypeCourse, "cs101", chunks[1], dualFor(1)))
	require.NoError(t, store.StoreChunk(ctx, content.TypePost, "p1", chunker.Chunk{
		Text: "Unrelated forum chatter.", Index: 0, Type: chunker.TypeDetail, HierarchyLevel: 3, WordCount: 3,
	}, dualFor(2)))

	// Query aligned with the recursion chunk dominates.
	hits, err := store.HybridSearch(ctx, axisVector(embedding.DimE5, 0), axisVector(embedding.DimBGE, 0), vector.SearchOptions{
		Limit:         5,
		MinSimilarity: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "Recursion")
	assert.InDelta(t, 1.0, hits[0].SimilarityE5, 1e-5)
	assert.InDelta(t, 1.0, hits[0].SimilarityBGE, 1e-5)
	assert.InDelta(t, 1.0, hits[0].Combined, 1e-5)

	// Content type filter excludes the course chunks.
	hits, err = store.HybridSearch(ctx, axisVector(embedding.DimE5, 2), axisVector(embedding.DimBGE, 2), vector.SearchOptions{
		ContentTypes:  []content.Type{content.TypePost},
		Limit:         5,
		MinSimilarity: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, content.TypePost, hits[0].ContentType)

	// Stats see the live corpus.
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByContentType[content.TypeCourse])
	assert.Equal(t, 3, stats.WithE5)
	assert.Equal(t, 3, stats.WithBGE)
	assert.Equal(t, 0, stats.Deleted)

	// Soft delete retires the course chunks from search but keeps the rows.
	n, err := store.SoftDeleteByContent(ctx, content.TypeCourse, "cs101")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	hits, err = store.HybridSearch(ctx, axisVector(embedding.DimE5, 0), axisVector(embedding.DimBGE, 0), vector.SearchOptions{
		Limit:         5,
		MinSimilarity: 0.5,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)

	stats, err = store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 2, stats.Deleted)
}
