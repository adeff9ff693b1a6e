package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nevindra/steward"
)

// schemaRetries is how many times a structured-output response is re-asked
// after failing validation before ErrLLM{LLMSchemaViolation} is surfaced.
const schemaRetries = 2

// DefaultDeadline bounds one completion round-trip. The turn budget is a
// much coarser ceiling; this keeps a single hung request from eating it.
const DefaultDeadline = 30 * time.Second

// Provider implements steward.Provider over the OpenAI chat completions
// API. It maps HTTP failures onto the steward LLM error taxonomy and
// validates structured output against the request schema.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	client    *http.Client
	name      string
	maxTokens int
	deadline  time.Duration
	logger    *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithName overrides the provider name used in errors (default "openai").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the HTTP client; use it to set timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithMaxTokens caps completion length.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// WithDeadline sets the per-call deadline (default 30s); zero disables it.
func WithDeadline(d time.Duration) Option {
	return func(p *Provider) { p.deadline = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a Provider. baseURL is the API base, e.g.
// "https://api.openai.com/v1" or "http://localhost:11434/v1"; the
// /chat/completions path is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:   apiKey,
		model:    model,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		client:   &http.Client{},
		name:     "openai",
		deadline: DefaultDeadline,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the configured provider name.
func (p *Provider) Name() string { return p.name }

// Chat sends one chat completion request. When req.ResponseSchema is set,
// the response content is validated against the schema and re-asked up to
// schemaRetries times before failing.
func (p *Provider) Chat(ctx context.Context, req steward.ChatRequest) (steward.ChatResponse, error) {
	var schema *jsonschema.Schema
	if req.ResponseSchema != nil && len(req.ResponseSchema.Schema) > 0 {
		var err error
		schema, err = compileSchema(req.ResponseSchema)
		if err != nil {
			return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name,
				Kind: steward.LLMSchemaViolation, Message: "bad response schema: " + err.Error()}
		}
	}

	attempts := 1
	if schema != nil {
		attempts += schemaRetries
	}
	var lastViolation string
	for i := 0; i < attempts; i++ {
		resp, err := p.complete(ctx, req)
		if err != nil {
			return steward.ChatResponse{}, err
		}
		if schema == nil || len(resp.ToolCalls) > 0 {
			return resp, nil
		}
		if err := validateContent(schema, resp.Content); err != nil {
			lastViolation = err.Error()
			p.logger.Warn("structured output failed validation, retrying",
				"provider", p.name, "attempt", i+1, "error", err)
			continue
		}
		return resp, nil
	}
	return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name,
		Kind: steward.LLMSchemaViolation, Message: lastViolation}
}

func (p *Provider) complete(ctx context.Context, req steward.ChatRequest) (steward.ChatResponse, error) {
	if p.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	body := buildBody(p.model, req, p.maxTokens)
	payload, err := json.Marshal(body)
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name,
			Kind: steward.LLMUnavailable, Message: "marshal request: " + err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name,
			Kind: steward.LLMUnavailable, Message: "create request: " + err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		kind := steward.LLMUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = steward.LLMTimeout
		}
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name, Kind: kind, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name,
			Kind: steward.LLMUnavailable, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return steward.ChatResponse{}, p.statusError(resp.StatusCode, raw)
	}

	var result chatResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return steward.ChatResponse{}, &steward.ErrLLM{Provider: p.name,
			Kind: steward.LLMUnavailable, Message: "decode response: " + err.Error()}
	}
	return parseResult(result), nil
}

// statusError maps HTTP failures onto the LLM error taxonomy.
func (p *Provider) statusError(status int, raw []byte) error {
	var wrapped struct {
		Error *apiError `json:"error"`
	}
	_ = json.Unmarshal(raw, &wrapped)

	msg := string(raw)
	if wrapped.Error != nil && wrapped.Error.Message != "" {
		msg = wrapped.Error.Message
	}

	var kind steward.LLMErrorKind
	switch {
	case isContextOverflow(wrapped.Error, msg):
		kind = steward.LLMContextOverflow
	case status == http.StatusTooManyRequests:
		kind = steward.LLMRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = steward.LLMTimeout
	case status >= 500:
		kind = steward.LLMUnavailable
	default:
		kind = steward.LLMUnavailable
	}
	return &steward.ErrLLM{Provider: p.name, Kind: kind,
		Message: fmt.Sprintf("status %d: %s", status, msg)}
}

func compileSchema(rs *steward.ResponseSchema) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	url := "steward://schemas/" + rs.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(rs.Schema)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

func validateContent(schema *jsonschema.Schema, content string) error {
	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

var _ steward.Provider = (*Provider)(nil)
