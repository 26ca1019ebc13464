package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"edusocial/apps/rag/internal/credential"
)

// The two embedding models served by the embedding microservices. The
// smaller model is cheap enough for broad retrieval; the larger one is
// used for reranking quality.
const (
	ModelE5  = "e5-small"
	ModelBGE = "bge-m3"

	DimE5  = 384
	DimBGE = 1024
)

const (
	singleTimeout = 30 * time.Second
	batchTimeout  = 120 * time.Second
	maxAttempts   = 3
	maxInputChars = 8000
)

var (
	ErrEmptyInput           = errors.New("empty input text")
	ErrInvalidVector        = errors.New("invalid embedding vector")
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
)

type Vector []float32

// Result is one embedding plus the provider-reported token count.
type Result struct {
	Vector     Vector
	TokenCount int
}

// DualResult holds both models' embeddings for the same text.
type DualResult struct {
	E5  Result
	BGE Result
}

type embedRequest struct {
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	TokenCount int       `json:"token_count"`
	Error      string    `json:"error"`
}

type batchRequest struct {
	Inputs []string `json:"inputs"`
}

type batchResponse struct {
	Embeddings  [][]float32 `json:"embeddings"`
	TokenCounts []int       `json:"token_counts"`
	Error       string      `json:"error"`
}

// Client calls the two embedding microservices with credential rotation,
// retry with exponential backoff, and a content-hash cache in front of
// every network call.
type Client struct {
	e5URL      string
	bgeURL     string
	httpClient *http.Client
	pool       *credential.Pool
	policy     credential.Policy
	cache      *Cache

	backoff func(attempt int) time.Duration
}

func NewClient(e5URL, bgeURL string, pool *credential.Pool) *Client {
	return &Client{
		e5URL:      strings.TrimRight(e5URL, "/"),
		bgeURL:     strings.TrimRight(bgeURL, "/"),
		httpClient: &http.Client{},
		pool:       pool,
		policy:     credential.PolicyBestPerformance,
		cache:      NewCache(10000, time.Hour),
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

func (c *Client) CacheStats() (hits, misses int64) {
	return c.cache.Stats()
}

// Normalize trims, collapses runs of whitespace, and caps input length
// before hashing or sending text to the provider.
func Normalize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxInputChars {
		text = text[:maxInputChars]
	}
	return text
}

// Embed returns the embedding for a single text under the given model.
func (c *Client) Embed(ctx context.Context, model, text string) (Result, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return Result{}, ErrEmptyInput
	}

	key := CacheKey(model, normalized)
	if cached, ok := c.cache.Get(key); ok {
		return cached, nil
	}

	var res Result
	err := c.withRetry(ctx, model, func(callCtx context.Context, auth string) error {
		callCtx, cancel := context.WithTimeout(callCtx, singleTimeout)
		defer cancel()

		var resp embedResponse
		if err := c.post(callCtx, c.baseURL(model)+"/embed", auth, embedRequest{Input: normalized}, &resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("embedding service error: %s", resp.Error)
		}
		if err := validate(model, resp.Embedding); err != nil {
			return err
		}
		res = Result{Vector: resp.Embedding, TokenCount: resp.TokenCount}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	c.cache.Set(key, res)
	return res, nil
}

// EmbedBatch embeds many texts in one call. Cached entries are served
// locally; only the misses go over the network.
func (c *Client) EmbedBatch(ctx context.Context, model string, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]Result, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		normalized := Normalize(text)
		if normalized == "" {
			return nil, fmt.Errorf("%w: batch item %d", ErrEmptyInput, i)
		}
		if cached, ok := c.cache.Get(CacheKey(model, normalized)); ok {
			results[i] = cached
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, normalized)
	}

	if len(missIdx) == 0 {
		return results, nil
	}

	var resp batchResponse
	err := c.withRetry(ctx, model, func(callCtx context.Context, auth string) error {
		callCtx, cancel := context.WithTimeout(callCtx, batchTimeout)
		defer cancel()

		resp = batchResponse{}
		if err := c.post(callCtx, c.baseURL(model)+"/embed/batch", auth, batchRequest{Inputs: missTexts}, &resp); err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("embedding service error: %s", resp.Error)
		}
		if len(resp.Embeddings) != len(missTexts) {
			return fmt.Errorf("%w: got %d embeddings for %d inputs", ErrInvalidVector, len(resp.Embeddings), len(missTexts))
		}
		for _, vec := range resp.Embeddings {
			if err := validate(model, vec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for j, i := range missIdx {
		res := Result{Vector: resp.Embeddings[j]}
		if j < len(resp.TokenCounts) {
			res.TokenCount = resp.TokenCounts[j]
		}
		results[i] = res
		c.cache.Set(CacheKey(model, missTexts[j]), res)
	}
	return results, nil
}

// EmbedDual embeds the same text under both models. One model failing
// degrades to a partial result; the call errors only when both fail.
func (c *Client) EmbedDual(ctx context.Context, text string) (DualResult, error) {
	e5, errE5 := c.Embed(ctx, ModelE5, text)
	bge, errBGE := c.Embed(ctx, ModelBGE, text)
	if errE5 != nil && errBGE != nil {
		return DualResult{}, fmt.Errorf("both embedding models failed: %s: %v; %s: %w", ModelE5, errE5, ModelBGE, errBGE)
	}

	var out DualResult
	if errE5 == nil {
		out.E5 = e5
	} else {
		slog.WarnContext(ctx, "embedding degraded to single model", "failed_model", ModelE5, "error", errE5)
	}
	if errBGE == nil {
		out.BGE = bge
	} else {
		slog.WarnContext(ctx, "embedding degraded to single model", "failed_model", ModelBGE, "error", errBGE)
	}
	return out, nil
}

// EmbedDualBatch embeds many texts under both models, with the same
// one-model degradation as EmbedDual.
func (c *Client) EmbedDualBatch(ctx context.Context, texts []string) ([]DualResult, error) {
	e5, errE5 := c.EmbedBatch(ctx, ModelE5, texts)
	bge, errBGE := c.EmbedBatch(ctx, ModelBGE, texts)
	if errE5 != nil && errBGE != nil {
		return nil, fmt.Errorf("both embedding models failed: %s: %v; %s: %w", ModelE5, errE5, ModelBGE, errBGE)
	}
	if errE5 != nil {
		slog.WarnContext(ctx, "embedding degraded to single model", "failed_model", ModelE5, "error", errE5)
	}
	if errBGE != nil {
		slog.WarnContext(ctx, "embedding degraded to single model", "failed_model", ModelBGE, "error", errBGE)
	}

	out := make([]DualResult, len(texts))
	for i := range texts {
		if errE5 == nil {
			out[i].E5 = e5[i]
		}
		if errBGE == nil {
			out[i].BGE = bge[i]
		}
	}
	return out, nil
}

func (c *Client) baseURL(model string) string {
	if model == ModelBGE {
		return c.bgeURL
	}
	return c.e5URL
}

// withRetry runs the call up to maxAttempts times with exponential backoff,
// acquiring a fresh credential per attempt and reporting the outcome back
// to the pool.
func (c *Client) withRetry(ctx context.Context, model string, call func(ctx context.Context, auth string) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		auth := ""
		leaseName := ""
		if c.pool != nil && c.pool.Size() > 0 {
			lease, err := c.pool.Acquire(ctx, c.policy)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
			}
			auth = lease.Key
			leaseName = lease.Name
		}

		err := call(ctx, auth)
		if leaseName != "" {
			c.pool.RecordOutcome(ctx, leaseName, err == nil, err)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrInvalidVector) {
			return err
		}
		lastErr = err

		slog.WarnContext(ctx, "embedding call failed", "model", model, "attempt", attempt, "error", err)
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, lastErr)
}

func (c *Client) post(ctx context.Context, url, auth string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("embedding service returned %d", resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return nil
}

// Dim returns the expected dimensionality for a model name.
func Dim(model string) int {
	if model == ModelBGE {
		return DimBGE
	}
	return DimE5
}

func validate(model string, vec []float32) error {
	if len(vec) != Dim(model) {
		return fmt.Errorf("%w: model %s expected %d dims, got %d", ErrInvalidVector, model, Dim(model), len(vec))
	}
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite value", ErrInvalidVector)
		}
	}
	return nil
}
