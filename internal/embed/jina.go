package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/codeindex/codeindex/internal/apperrors"
	"github.com/codeindex/codeindex/internal/httpclient"
	"github.com/codeindex/codeindex/internal/ratelimit"
)

// jinaDimensionTable maps known Jina model names to their embedding
// dimension. Unknown models fall back to the conservative default.
var jinaDimensionTable = map[string]int{
	"jina-embeddings-v3":       1024,
	"jina-embeddings-v2-base":  768,
	"jina-embeddings-v2-small": 512,
	"jina-clip-v2":             1024,
}

const jinaDefaultDimensions = 1024

// jinaBatchSize caps the number of texts sent to Jina in a single request.
// Smaller chunks keep the JSON response reliable under load.
const jinaBatchSize = 25

// JinaConfig configures a JinaEmbedder.
type JinaConfig struct {
	APIKey   string
	Model    string
	Endpoint string

	// RateLimit and RateBurst configure the outbound request limiter.
	// Defaults approximate Jina's free-tier ~80 requests/minute.
	RateLimit float64
	RateBurst float64
}

// DefaultJinaConfig returns sensible defaults for the Jina backend.
func DefaultJinaConfig() JinaConfig {
	return JinaConfig{
		Model:     "jina-embeddings-v3",
		Endpoint:  "https://api.jina.ai/v1/embeddings",
		RateLimit: 1.333, // ~80/min
		RateBurst: 1,
	}
}

// JinaEmbedder is a remote batched embedder backed by the Jina AI REST API.
// A single call accepts the whole batch, so EmbedBatch only needs to split
// oversized inputs into request-sized chunks.
type JinaEmbedder struct {
	cfg     JinaConfig
	client  *http.Client
	limiter *ratelimit.Limiter
}

var _ Embedder = (*JinaEmbedder)(nil)

// NewJinaEmbedder creates a JinaEmbedder. Construction never talks to the
// network; call Initialize to verify the API key and model.
func NewJinaEmbedder(cfg JinaConfig) *JinaEmbedder {
	if cfg.Model == "" {
		cfg.Model = "jina-embeddings-v3"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.jina.ai/v1/embeddings"
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1.333
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 1
	}
	return &JinaEmbedder{
		cfg:     cfg,
		client:  &http.Client{},
		limiter: ratelimit.New(cfg.RateLimit, cfg.RateBurst),
	}
}

type jinaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Task       string   `json:"task"`
	Dimensions int      `json:"dimensions"`
	Truncate   bool     `json:"truncate"`
}

type jinaEmbedResponse struct {
	Data []jinaEmbedding `json:"data"`
}

type jinaEmbedding struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// Initialize performs a single size-1 embedding request to confirm the API
// key and model are valid.
func (e *JinaEmbedder) Initialize(ctx context.Context) error {
	if e.cfg.APIKey == "" {
		return apperrors.New(apperrors.KindConfig, "jina: no API key configured")
	}
	if _, err := e.Embed(ctx, "ping"); err != nil {
		return apperrors.Wrap(apperrors.KindBackend, err)
	}
	return nil
}

// Embed generates an embedding for a single text using task "retrieval.passage".
func (e *JinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embed(ctx, []string{text}, "retrieval.passage")
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("jina: no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

// EmbedBatch splits texts into chunks of at most jinaBatchSize and issues
// one batch call per chunk, placing each result using the response's Index
// field so EmbedBatch(T)[i] is always the embedding of T[i].
func (e *JinaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += jinaBatchSize {
		end := start + jinaBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		resp, err := e.embed(ctx, chunk, "retrieval.passage")
		if err != nil {
			return nil, fmt.Errorf("jina: batch chunk starting at %d: %w", start, err)
		}
		for _, item := range resp.Data {
			if item.Index < 0 || item.Index >= len(chunk) {
				return nil, fmt.Errorf("jina: out-of-range index %d for chunk of size %d", item.Index, len(chunk))
			}
			results[start+item.Index] = item.Embedding
		}
	}

	for i, r := range results {
		if r == nil {
			return nil, fmt.Errorf("jina: missing embedding for index %d", i)
		}
	}
	return results, nil
}

// EmbedQuery embeds a query string using task "retrieval.query", which Jina
// scores better against passage embeddings than the generic passage task.
func (e *JinaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.embed(ctx, []string{text}, "retrieval.query")
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("jina: no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

func (e *JinaEmbedder) embed(ctx context.Context, input []string, task string) (*jinaEmbedResponse, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("jina: rate limiter wait: %w", err)
	}

	reqBody, err := json.Marshal(jinaEmbedRequest{
		Model:      e.cfg.Model,
		Input:      input,
		Task:       task,
		Dimensions: e.Dimensions(),
		Truncate:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("jina: marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	result, err := httpclient.Fetch(ctx, e.client, http.MethodPost, e.cfg.Endpoint, header, reqBody, httpclient.DefaultPolicy())
	if err != nil {
		return nil, err
	}

	var embedResp jinaEmbedResponse
	if err := json.Unmarshal(result.Body, &embedResp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackend, fmt.Errorf("jina: parse response: %w", err))
	}
	return &embedResp, nil
}

// Dimensions returns the embedding dimension for the configured model.
func (e *JinaEmbedder) Dimensions() int {
	if d, ok := jinaDimensionTable[e.cfg.Model]; ok {
		return d
	}
	return jinaDefaultDimensions
}

// Model returns the configured model name.
func (e *JinaEmbedder) Model() string { return e.cfg.Model }

// Name returns the backend's short name.
func (e *JinaEmbedder) Name() string { return "jina" }

// Close releases the embedder's idle HTTP connections.
func (e *JinaEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
