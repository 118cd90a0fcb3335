// Package embedding provides embedding generation services.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metaground/retrieval-engine/internal/errs"
	"github.com/metaground/retrieval-engine/internal/retry"
)

// Client provides embedding generation against an OpenAI-compatible
// embeddings endpoint.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	model         string
	dimension     int
	chunkSize     int
	maxConcurrent int
	retryPolicy   retry.Policy
}

// Config holds embedding client configuration.
type Config struct {
	APIKey        string
	Model         string
	BaseURL       string
	Dimension     int // default 1024
	Timeout       time.Duration
	ChunkSize     int // default 64
	MaxConcurrent int // default 20
	MaxAttempts   int
}

// NewClient creates a new embedding client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-large"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	policy := retry.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       cfg.BaseURL,
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		dimension:     cfg.Dimension,
		chunkSize:     cfg.ChunkSize,
		maxConcurrent: cfg.MaxConcurrent,
		retryPolicy:   policy,
	}, nil
}

// EmbeddingRequest represents a request to generate embeddings.
type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// EmbeddingResponse represents the API response.
type EmbeddingResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  EmbeddingUsage  `json:"usage"`
	Error  *EmbeddingError `json:"error,omitempty"`
}

// EmbeddingData contains the embedding vector.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingUsage contains token usage information.
type EmbeddingUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingError represents an API error.
type EmbeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// embed issues one request for a single chunk of texts, wrapped by the
// retry combinator since this is the engine's one upstream I/O call
// that recomputed embeddings are never derived from.
func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := retry.Do(ctx, c.retryPolicy, errs.Retryable, func(ctx context.Context) error {
		result, err := c.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		out = result
		return nil
	})
	return out, err
}

func (c *Client) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := EmbeddingRequest{Input: texts, Model: c.model}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "embed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.KindUpstreamIO, "embed_read_body", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp EmbeddingResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			return nil, errs.New(errs.KindUpstreamIO, "embed",
				fmt.Errorf("API error: %s (type: %s)", errResp.Error.Message, errResp.Error.Type))
		}
		return nil, errs.New(errs.KindUpstreamIO, "embed",
			fmt.Errorf("status %d, body: %s", resp.StatusCode, string(body)))
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, errs.New(errs.KindData, "embed_unmarshal", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	return embeddings, nil
}

// Embed generates embeddings for the given texts in a single request,
// retried on upstream failure.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts)
}

// EmbedSingle generates an embedding for a single text.
func (c *Client) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for texts split into chunkSize-sized
// requests (64 by default), fanned out with bounded concurrency (20 in
// flight by default) via a limited golang.org/x/sync/errgroup. A failed chunk
// falls back to per-text EmbedSingle calls rather than failing the
// whole batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	chunkSize := c.chunkSize
	if chunkSize <= 0 {
		chunkSize = 64
	}

	type chunk struct {
		start int
		texts []string
	}
	var chunks []chunk
	for i := 0; i < len(texts); i += chunkSize {
		end := i + chunkSize
		if end > len(texts) {
			end = len(texts)
		}
		chunks = append(chunks, chunk{start: i, texts: texts[i:end]})
	}

	results := make([][][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)

	for idx, ch := range chunks {
		idx, ch := idx, ch
		g.Go(func() error {
			embeds, err := c.embed(gctx, ch.texts)
			if err != nil {
				// fall back to per-text embedding so one bad item doesn't
				// sink the whole chunk's results.
				embeds = make([][]float32, len(ch.texts))
				for i, t := range ch.texts {
					single, serr := c.EmbedSingle(gctx, t)
					if serr != nil {
						return fmt.Errorf("chunk starting at %d: %w", ch.start, serr)
					}
					embeds[i] = single
				}
			}
			results[idx] = embeds
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// Model returns the model being used.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the embedding dimension.
func (c *Client) Dimension() int {
	return c.dimension
}

// MockClient provides a mock embedding client for testing.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock client that generates deterministic,
// text-derived embeddings.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 1024
	}
	return &MockClient{dimension: dimension}
}

// Embed generates mock embeddings (hash-based, deterministic for a given text).
func (c *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = make([]float32, c.dimension)
		for j, char := range texts[i] {
			if j >= c.dimension {
				break
			}
			embeddings[i][j%c.dimension] += float32(char) / 1000.0
		}
		embeddings[i] = normalize(embeddings[i])
	}
	return embeddings, nil
}

// EmbedSingle generates a mock embedding for a single text.
func (c *MockClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch generates mock embeddings for a batch, ignoring chunking.
func (c *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.Embed(ctx, texts)
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-embedding-model"
}

// Dimension returns the embedding dimension.
func (c *MockClient) Dimension() int {
	return c.dimension
}

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := float32(1.0) / float32(sqrt(float64(sum)))
	for i := range v {
		v[i] *= norm
	}
	return v
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 10; i++ {
		z = (z + x/z) / 2
	}
	return z
}

// Embedder defines the interface for embedding generation.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Ensure implementations satisfy interface.
var (
	_ Embedder = (*Client)(nil)
	_ Embedder = (*MockClient)(nil)
)
