package vector

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
)

func TestCombineScores(t *testing.T) {
	got := CombineScores(0.8, 0.6, true, true, 0.4, 0.6)
	assert.InDelta(t, 0.68, got, 1e-9)
}

func TestCombineScoresSingleModelFallback(t *testing.T) {
	assert.InDelta(t, 0.8, CombineScores(0.8, 0, true, false, 0.4, 0.6), 1e-9)
	assert.InDelta(t, 0.6, CombineScores(0, 0.6, false, true, 0.4, 0.6), 1e-9)
	assert.Zero(t, CombineScores(0.8, 0.6, false, false, 0.4, 0.6))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func hitColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "public_id", "content_type", "content_id", "chunk_index",
		"text", "chunk_type", "hierarchy_level", "section_title", "word_count", "semantic_density",
		"sim_e5", "has_bge"})
}

func TestHybridSearchTwoStage(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM embeddings").
		WillReturnRows(hitColumns().
			AddRow(1, "p1", "post", "42", 0, "chunk one", "paragraph", 2, "", 20, 0.8, 0.8, true).
			AddRow(2, "p2", "lesson", "7", 0, "chunk two", "section", 1, "Intro", 30, 0.9, 0.9, true))

	mock.ExpectQuery("embedding_bge").
		WillReturnRows(sqlmock.NewRows([]string{"id", "sim"}).
			AddRow(1, 0.9).
			AddRow(2, 0.5))

	queryE5 := make(embedding.Vector, embedding.DimE5)
	queryBGE := make(embedding.Vector, embedding.DimBGE)
	hits, err := store.HybridSearch(context.Background(), queryE5, queryBGE, SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// chunk one: 0.4*0.8 + 0.6*0.9 = 0.86 beats chunk two: 0.4*0.9 + 0.6*0.5 = 0.66.
	assert.Equal(t, int64(1), hits[0].ID)
	assert.InDelta(t, 0.86, hits[0].Combined, 1e-9)
	assert.Equal(t, int64(2), hits[1].ID)
	assert.InDelta(t, 0.66, hits[1].Combined, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHybridSearchMinSimilarityFilter(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM embeddings").
		WillReturnRows(hitColumns().
			AddRow(1, "p1", "post", "42", 0, "good", "paragraph", 2, "", 20, 0.8, 0.9, false).
			AddRow(2, "p2", "post", "43", 0, "weak", "paragraph", 2, "", 20, 0.8, 0.2, false))

	queryE5 := make(embedding.Vector, embedding.DimE5)
	hits, err := store.HybridSearch(context.Background(), queryE5, nil, SearchOptions{Limit: 10, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "good", hits[0].Text)
}

func TestHybridSearchEmptyCorpus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM embeddings").WillReturnRows(hitColumns())

	hits, err := store.HybridSearch(context.Background(), make(embedding.Vector, embedding.DimE5), nil, SearchOptions{Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHybridSearchRenormalizesWithoutBGEQuery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("embedding_e5").
		WillReturnRows(hitColumns().
			AddRow(1, "p1", "post", "42", 0, "chunk", "paragraph", 2, "", 20, 0.8, 0.9, true))

	hits, err := store.HybridSearch(context.Background(), make(embedding.Vector, embedding.DimE5), nil, SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	// No rerank ran, so the candidate's stored bge vector must not drag
	// the combined score down to a fraction of the e5 similarity.
	assert.InDelta(t, 0.9, hits[0].Combined, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHybridSearchBGEOnlyQuery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("embedding_bge").
		WillReturnRows(hitColumns().
			AddRow(1, "p1", "post", "42", 0, "chunk", "paragraph", 2, "", 20, 0.8, 0.7, true))

	hits, err := store.HybridSearch(context.Background(), nil, make(embedding.Vector, embedding.DimBGE), SearchOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.7, hits[0].SimilarityBGE, 1e-9)
	assert.InDelta(t, 0.7, hits[0].Combined, 1e-9)
	assert.Zero(t, hits[0].SimilarityE5)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHybridSearchNoQueryVectors(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.HybridSearch(context.Background(), nil, nil, SearchOptions{Limit: 5})
	assert.ErrorIs(t, err, ErrNoQueryVector)
}

func TestHybridSearchCancelledBeforeRerank(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("FROM embeddings").
		WillReturnRows(hitColumns().
			AddRow(1, "p1", "post", "42", 0, "chunk", "paragraph", 2, "", 20, 0.8, 0.9, true))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.HybridSearch(ctx, make(embedding.Vector, embedding.DimE5), make(embedding.Vector, embedding.DimBGE), SearchOptions{Limit: 5})
	assert.Error(t, err)
}

func TestSoftDeleteByContent(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE embeddings SET is_deleted").
		WithArgs(content.TypePost, "42").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.SoftDeleteByContent(context.Background(), content.TypePost, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStats(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("GROUP BY content_type").
		WillReturnRows(sqlmock.NewRows([]string{"content_type", "count", "with_e5", "with_bge"}).
			AddRow("post", 5, 5, 4).
			AddRow("lesson", 3, 3, 3))
	mock.ExpectQuery("WHERE is_deleted").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Total)
	assert.Equal(t, 5, stats.ByContentType[content.TypePost])
	assert.Equal(t, 7, stats.WithBGE)
	assert.Equal(t, 2, stats.Deleted)
}
