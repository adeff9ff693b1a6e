package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nevindra/steward"
)

// Embedder implements steward.EmbeddingProvider over the OpenAI embeddings
// API.
type Embedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	client     *http.Client
	name       string
}

// NewEmbedder creates an Embedder. dimensions must match what the model
// returns; vector stores size their columns from it.
func NewEmbedder(apiKey, model, baseURL string, dimensions int) *Embedder {
	return &Embedder{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		dimensions: dimensions,
		client:     &http.Client{},
		name:       "openai",
	}
}

func (e *Embedder) Name() string    { return e.name }
func (e *Embedder) Dimensions() int { return e.dimensions }

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(map[string]any{"model": e.model, "input": texts})
	if err != nil {
		return nil, &steward.ErrLLM{Provider: e.name, Kind: steward.LLMUnavailable, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, &steward.ErrLLM{Provider: e.name, Kind: steward.LLMUnavailable, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		kind := steward.LLMUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = steward.LLMTimeout
		}
		return nil, &steward.ErrLLM{Provider: e.name, Kind: kind, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &steward.ErrLLM{Provider: e.name, Kind: steward.LLMUnavailable, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		kind := steward.LLMUnavailable
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = steward.LLMRateLimited
		}
		return nil, &steward.ErrLLM{Provider: e.name, Kind: kind,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, raw)}
	}

	var result struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &steward.ErrLLM{Provider: e.name, Kind: steward.LLMUnavailable,
			Message: "decode response: " + err.Error()}
	}
	out := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	return out, nil
}

var _ steward.EmbeddingProvider = (*Embedder)(nil)
