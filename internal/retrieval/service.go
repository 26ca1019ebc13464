package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"edusocial/apps/rag/internal/content"
	"edusocial/apps/rag/internal/embedding"
	"edusocial/apps/rag/internal/middleware"
	"edusocial/apps/rag/internal/vector"
)

const (
	tokensPerWord     = 1.3
	maxCandidates     = 50
	minTypeWeight     = 0.6
	baselineSelection = 3
)

// Config is the per-call retrieval configuration.
type Config struct {
	MaxTokens          int
	MaxChunks          int
	MinSimilarity      float64
	ContentTypeWeights map[content.Type]float64
	DiversityThreshold float64
	IncludeMetadata    bool
}

func DefaultConfig() Config {
	return Config{
		MaxTokens:     2000,
		MaxChunks:     10,
		MinSimilarity: 0.3,
		ContentTypeWeights: map[content.Type]float64{
			content.TypeCourse:  1.0,
			content.TypeLesson:  1.0,
			content.TypeProfile: 0.8,
			content.TypePost:    0.7,
			content.TypeComment: 0.6,
		},
		DiversityThreshold: 0.85,
		IncludeMetadata:    true,
	}
}

// Stats summarizes an assembled context bundle.
type Stats struct {
	TotalTokens      int                  `json:"total_tokens"`
	ChunkCount       int                  `json:"chunk_count"`
	AvgSimilarity    float64              `json:"avg_similarity"`
	TypeDistribution map[content.Type]int `json:"type_distribution"`
	Degraded         bool                 `json:"degraded,omitempty"`
}

// Result is the assembled context: the prompt-ready text, the selected
// chunks, and aggregate stats.
type Result struct {
	Text   string       `json:"text"`
	Chunks []vector.Hit `json:"chunks"`
	Stats  Stats        `json:"stats"`
}

type Embedder interface {
	EmbedDual(ctx context.Context, text string) (embedding.DualResult, error)
}

type Searcher interface {
	HybridSearch(ctx context.Context, queryE5, queryBGE embedding.Vector, opts vector.SearchOptions) ([]vector.Hit, error)
}

// Service assembles a token-budgeted, topically diverse context bundle
// from hybrid search hits.
type Service struct {
	embedder Embedder
	searcher Searcher
	queryLog *QueryLogger
}

func NewService(embedder Embedder, searcher Searcher, queryLog *QueryLogger) *Service {
	return &Service{embedder: embedder, searcher: searcher, queryLog: queryLog}
}

// GetContext embeds the query under both models, searches a broad
// candidate pool, then greedily selects chunks under the token budget
// with diversity and content-type constraints. Search failure degrades
// to an empty result rather than a hard error; an empty corpus is a
// valid empty result.
func (s *Service) GetContext(ctx context.Context, query string, cfg Config, contentTypes []content.Type) (Result, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("empty query")
	}
	if cfg.MaxChunks <= 0 {
		cfg = DefaultConfig()
	}

	dual, err := s.embedder.EmbedDual(ctx, query)
	if err != nil {
		slog.WarnContext(ctx, "query embedding failed, returning degraded context", "error", err)
		return s.finish(ctx, query, contentTypes, nil, nil, cfg, start, true), nil
	}

	pool := cfg.MaxChunks * 2
	if pool > maxCandidates {
		pool = maxCandidates
	}

	candidates, err := s.searcher.HybridSearch(ctx, dual.E5.Vector, dual.BGE.Vector, vector.SearchOptions{
		ContentTypes:  contentTypes,
		Limit:         pool,
		MinSimilarity: cfg.MinSimilarity,
	})
	if err != nil {
		slog.WarnContext(ctx, "hybrid search failed, returning degraded context", "error", err)
		return s.finish(ctx, query, contentTypes, nil, nil, cfg, start, true), nil
	}

	selected := s.selectChunks(candidates, cfg)
	return s.finish(ctx, query, contentTypes, candidates, selected, cfg, start, false), nil
}

// selectChunks walks candidates by descending combined score: stop when
// the token budget is hit, skip near-duplicates, and once a baseline of
// chunks is selected skip low-weight content types.
func (s *Service) selectChunks(candidates []vector.Hit, cfg Config) []vector.Hit {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Combined > candidates[j].Combined
	})

	var selected []vector.Hit
	var wordSets [][]string
	totalTokens := 0

	for _, cand := range candidates {
		if len(selected) >= cfg.MaxChunks {
			break
		}

		tokens := tokenEstimate(cand)
		if totalTokens+tokens > cfg.MaxTokens {
			break
		}

		words := wordSet(cand.Text)
		if nearDuplicate(words, wordSets, cfg.DiversityThreshold) {
			continue
		}

		if len(selected) >= baselineSelection && typeWeight(cfg, cand.ContentType) < minTypeWeight {
			continue
		}

		selected = append(selected, cand)
		wordSets = append(wordSets, words)
		totalTokens += tokens
	}
	return selected
}

func (s *Service) finish(ctx context.Context, query string, contentTypes []content.Type, candidates, selected []vector.Hit, cfg Config, start time.Time, degraded bool) Result {
	res := Result{
		Text:   buildText(selected, cfg),
		Chunks: selected,
		Stats:  buildStats(selected, degraded),
	}

	if s.queryLog != nil {
		names := make([]string, len(contentTypes))
		for i, t := range contentTypes {
			names[i] = string(t)
		}
		s.queryLog.Log(QueryLogEntry{
			Query:         query,
			ContentTypes:  names,
			Candidates:    len(candidates),
			Selected:      len(selected),
			TotalTokens:   res.Stats.TotalTokens,
			AvgSimilarity: res.Stats.AvgSimilarity,
			Degraded:      degraded,
			Duration:      time.Since(start),
			CorrelationID: middleware.GetCorrelationID(ctx),
		})
	}
	return res
}

func tokenEstimate(h vector.Hit) int {
	return int(float64(h.WordCount) * tokensPerWord)
}

// typeWeight looks up a content type's weight; types absent from a
// non-empty map count as low-value (0.5).
func typeWeight(cfg Config, ct content.Type) float64 {
	if len(cfg.ContentTypeWeights) == 0 {
		return 1
	}
	if w, ok := cfg.ContentTypeWeights[ct]; ok {
		return w
	}
	return 0.5
}

func wordSet(text string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	return words
}

// jaccard computes word-set similarity between two deduplicated word lists.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inA := make(map[string]bool, len(a))
	for _, w := range a {
		inA[w] = true
	}
	intersection := 0
	for _, w := range b {
		if inA[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func nearDuplicate(words []string, existing [][]string, threshold float64) bool {
	for _, prev := range existing {
		if jaccard(words, prev) >= threshold {
			return true
		}
	}
	return false
}

// buildText groups selected chunks by content type, each group under its
// human-readable label, optionally annotating chunks with section title
// and relevance.
func buildText(selected []vector.Hit, cfg Config) string {
	if len(selected) == 0 {
		return ""
	}

	byType := make(map[content.Type][]vector.Hit)
	for _, h := range selected {
		byType[h.ContentType] = append(byType[h.ContentType], h)
	}

	var sb strings.Builder
	for _, ct := range content.All() {
		hits, ok := byType[ct]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## " + ct.Label() + "\n")
		for _, h := range hits {
			sb.WriteString("\n")
			if cfg.IncludeMetadata {
				meta := fmt.Sprintf("[Relevance: %.0f%%", h.Combined*100)
				if h.SectionTitle != "" {
					meta += " | Section: " + h.SectionTitle
				}
				sb.WriteString(meta + "]\n")
			}
			sb.WriteString(h.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func buildStats(selected []vector.Hit, degraded bool) Stats {
	stats := Stats{
		ChunkCount:       len(selected),
		TypeDistribution: make(map[content.Type]int),
		Degraded:         degraded,
	}
	var simSum float64
	for _, h := range selected {
		stats.TotalTokens += tokenEstimate(h)
		stats.TypeDistribution[h.ContentType]++
		simSum += h.Combined
	}
	if len(selected) > 0 {
		stats.AvgSimilarity = simSum / float64(len(selected))
	}
	return stats
}
