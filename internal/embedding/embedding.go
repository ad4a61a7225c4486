// Package embedding turns text into vectors through Ollama, OpenAI-compatible
// endpoints, or a deterministic offline digest.
package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcliao/novel-memory/internal/config"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EmbedAll embeds texts with at most limit requests in flight. Results keep
// the input order; the first error cancels the rest.
func EmbedAll(ctx context.Context, e Embedder, texts []string, limit int) ([]Vector, error) {
	out := make([]Vector, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, text := range texts {
		g.Go(func() error {
			v, err := e.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed item %d: %w", i, err)
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Offline derives deterministic vectors from SHA-256 digests of the text,
// one digest per 32 components keyed by block number. Components are centered
// on zero so unrelated texts score near zero cosine. It needs no network and
// is used whenever no provider is configured or the configured one fails.
type Offline struct {
	dims int
}

// NewOffline returns an offline embedder producing vectors of dims length.
func NewOffline(dims int) *Offline {
	if dims <= 0 {
		dims = 256
	}
	return &Offline{dims: dims}
}

func (o *Offline) Embed(_ context.Context, text string) (Vector, error) {
	v := make(Vector, o.dims)
	var block [sha256.Size]byte
	for i := range v {
		if i%sha256.Size == 0 {
			block = sha256.Sum256(binary.BigEndian.AppendUint32([]byte(text), uint32(i/sha256.Size)))
		}
		v[i] = (float32(block[i%sha256.Size]) - 127.5) / 127.5
	}
	return v, nil
}

func (o *Offline) Dims() int { return o.dims }

// httpTimeout bounds one remote embedding call.
const httpTimeout = 30 * time.Second

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, c *http.Client, provider, url, apiKey string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", provider, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request: %w", provider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

// checkVector rejects empty vectors and vectors of the wrong length.
func checkVector(provider string, v Vector, dims int) (Vector, error) {
	switch {
	case len(v) == 0:
		return nil, fmt.Errorf("%s: empty embedding", provider)
	case dims > 0 && len(v) != dims:
		return nil, fmt.Errorf("%s: embedding has %d dims, want %d", provider, len(v), dims)
	}
	return v, nil
}

// ollamaDims holds the native sizes of common Ollama embedding models.
var ollamaDims = map[string]int{
	"nomic-embed-text":  768,
	"all-minilm":        384,
	"mxbai-embed-large": 1024,
}

// OllamaEmbedder calls a local Ollama server.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllamaEmbedder returns an Ollama embedder. Zero values select
// localhost:11434 and nomic-embed-text, with dims taken from the model.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if dims <= 0 {
		dims = ollamaDims[model]
	}
	if dims <= 0 {
		dims = 768
	}
	return &OllamaEmbedder{baseURL: baseURL, model: model, dims: dims, client: &http.Client{Timeout: httpTimeout}}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	req := map[string]string{"model": e.model, "prompt": text}
	if err := postJSON(ctx, e.client, "ollama", e.baseURL+"/api/embeddings", "", req, &out); err != nil {
		return nil, err
	}
	return checkVector("ollama", out.Embedding, e.dims)
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewOpenAIEmbedder returns an OpenAI-compatible embedder. Zero values select
// the public API and text-embedding-3-small with 1536 dims.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dims int) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if dims <= 0 {
		dims = 1536
	}
	return &OpenAIEmbedder{baseURL: baseURL, apiKey: apiKey, model: model, dims: dims, client: &http.Client{Timeout: httpTimeout}}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	req := struct {
		Input      string `json:"input"`
		Model      string `json:"model"`
		Dimensions int    `json:"dimensions,omitempty"`
	}{text, e.model, e.dims}
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := postJSON(ctx, e.client, "openai", e.baseURL+"/embeddings", e.apiKey, req, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai: no embedding returned")
	}
	return checkVector("openai", out.Data[0].Embedding, e.dims)
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// NewFromConfig creates an embedder from the embedding config.
// Provider "ollama" or "openai" selects a remote provider; anything else
// yields offline vectors of the configured dimension.
func NewFromConfig(cfg config.EmbedConfig) Embedder {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension)
	case "openai":
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimension)
	default:
		return NewOffline(cfg.Dimension)
	}
}
