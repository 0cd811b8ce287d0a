package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/codeindex/codeindex/internal/apperrors"
	"github.com/codeindex/codeindex/internal/httpclient"
)

// geminiDimensionTable maps known Gemini embedding models to their output
// dimension. Unknown models fall back to the conservative default.
var geminiDimensionTable = map[string]int{
	"text-embedding-004":   768,
	"gemini-embedding-001": 3072,
}

const geminiDefaultDimensions = 768

// geminiBatchCap is the maximum number of requests Gemini's
// batchEmbedContents accepts per call. Larger inputs are split into
// sequential super-batches of this size.
const geminiBatchCap = 100

// GeminiConfig configures a GeminiEmbedder.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Endpoint string // base REST endpoint, defaults to generativelanguage.googleapis.com
	TaskType string // e.g. "RETRIEVAL_DOCUMENT"
}

// DefaultGeminiConfig returns sensible defaults for the Gemini backend.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		Model:    "text-embedding-004",
		Endpoint: "https://generativelanguage.googleapis.com/v1beta",
		TaskType: "RETRIEVAL_DOCUMENT",
	}
}

// GeminiEmbedder is a remote paired embedder: it supports both single and
// batch REST calls, but the server's batch cap is small relative to a full
// chunk set, so EmbedBatch issues sequential super-batches rather than one
// call per input set.
type GeminiEmbedder struct {
	cfg    GeminiConfig
	client *http.Client
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a GeminiEmbedder. Construction never talks to
// the network; call Initialize to verify the API key and model.
func NewGeminiEmbedder(cfg GeminiConfig) *GeminiEmbedder {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.TaskType == "" {
		cfg.TaskType = "RETRIEVAL_DOCUMENT"
	}
	return &GeminiEmbedder{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type geminiContentPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiContentPart `json:"parts"`
}

type geminiSingleRequest struct {
	Model    string        `json:"model"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType,omitempty"`
}

type geminiBatchRequestEntry struct {
	Model    string        `json:"model"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType,omitempty"`
}

type geminiBatchRequest struct {
	Requests []geminiBatchRequestEntry `json:"requests"`
}

type geminiEmbedding struct {
	Values []float32 `json:"values"`
}

type geminiSingleResponse struct {
	Embedding geminiEmbedding `json:"embedding"`
}

type geminiBatchResponse struct {
	Embeddings []geminiEmbedding `json:"embeddings"`
}

// Initialize performs a single size-1 embedding request to confirm the API
// key and model are valid.
func (e *GeminiEmbedder) Initialize(ctx context.Context) error {
	if e.cfg.APIKey == "" {
		return apperrors.New(apperrors.KindConfig, "gemini: no API key configured")
	}
	if _, err := e.Embed(ctx, "ping"); err != nil {
		return apperrors.Wrap(apperrors.KindBackend, err)
	}
	return nil
}

// Embed generates an embedding for a single text via the single-content endpoint.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(geminiSingleRequest{
		Model:    "models/" + e.cfg.Model,
		Content:  geminiContent{Parts: []geminiContentPart{{Text: text}}},
		TaskType: e.cfg.TaskType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", e.cfg.Endpoint, e.cfg.Model, e.cfg.APIKey)
	result, err := httpclient.Fetch(ctx, e.client, http.MethodPost, url, jsonHeader(), reqBody, httpclient.DefaultPolicy())
	if err != nil {
		return nil, err
	}

	var resp geminiSingleResponse
	if err := json.Unmarshal(result.Body, &resp); err != nil {
		return nil, apperrors.Wrap(apperrors.KindBackend, fmt.Errorf("gemini: parse response: %w", err))
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch splits texts into sequential super-batches of at most
// geminiBatchCap and issues one batchEmbedContents call per super-batch,
// preserving input order since Gemini's batch response is positional.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += geminiBatchCap {
		end := start + geminiBatchCap
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		entries := make([]geminiBatchRequestEntry, len(chunk))
		for i, text := range chunk {
			entries[i] = geminiBatchRequestEntry{
				Model:    "models/" + e.cfg.Model,
				Content:  geminiContent{Parts: []geminiContentPart{{Text: text}}},
				TaskType: e.cfg.TaskType,
			}
		}
		reqBody, err := json.Marshal(geminiBatchRequest{Requests: entries})
		if err != nil {
			return nil, fmt.Errorf("gemini: marshal batch request: %w", err)
		}

		url := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s", e.cfg.Endpoint, e.cfg.Model, e.cfg.APIKey)
		result, err := httpclient.Fetch(ctx, e.client, http.MethodPost, url, jsonHeader(), reqBody, httpclient.DefaultPolicy())
		if err != nil {
			return nil, fmt.Errorf("gemini: batch chunk starting at %d: %w", start, err)
		}

		var resp geminiBatchResponse
		if err := json.Unmarshal(result.Body, &resp); err != nil {
			return nil, apperrors.Wrap(apperrors.KindBackend, fmt.Errorf("gemini: parse batch response: %w", err))
		}
		if len(resp.Embeddings) != len(chunk) {
			return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(chunk), len(resp.Embeddings))
		}
		for i, emb := range resp.Embeddings {
			results[start+i] = emb.Values
		}
	}
	return results, nil
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

// Dimensions returns the embedding dimension for the configured model.
func (e *GeminiEmbedder) Dimensions() int {
	if d, ok := geminiDimensionTable[e.cfg.Model]; ok {
		return d
	}
	return geminiDefaultDimensions
}

// Model returns the configured model name.
func (e *GeminiEmbedder) Model() string { return e.cfg.Model }

// Name returns the backend's short name.
func (e *GeminiEmbedder) Name() string { return "gemini" }

// Close releases the embedder's idle HTTP connections.
func (e *GeminiEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
