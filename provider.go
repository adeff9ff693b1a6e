package steward

import "context"

// Provider abstracts the LLM backend. A single synchronous round-trip; no
// streaming is visible to the core. Implementations map transport failures
// onto ErrLLM kinds so the router and agent loop can react per kind.
type Provider interface {
	// Chat sends a request and returns a complete response. When req.Tools
	// is non-empty the response may contain ToolCalls; when
	// req.ResponseSchema is set the content validates against the schema.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name for logs and error messages.
	Name() string
}

// EmbeddingProvider abstracts text embedding.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}
