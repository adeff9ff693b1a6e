// Package openaicompat implements the steward Provider and
// EmbeddingProvider over the OpenAI chat completions and embeddings APIs.
// It works against OpenAI, OpenRouter, Groq, Ollama, vLLM, and any other
// endpoint speaking the same protocol.
package openaicompat

import (
	"encoding/json"
	"strings"

	"github.com/nevindra/steward"
)

// chatBody is the chat completions request body.
type chatBody struct {
	Model          string          `json:"model"`
	Messages       []wireMessage   `json:"messages"`
	Tools          []wireTool      `json:"tools,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type wireMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []wireCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

// chatResult is the chat completions response body.
type chatResult struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []wireCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// buildBody converts a steward request to the wire form.
func buildBody(model string, req steward.ChatRequest, maxTokens int) chatBody {
	body := chatBody{Model: model, Temperature: req.Temperature, MaxTokens: maxTokens}
	for _, m := range req.Messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			var wc wireCall
			wc.ID = tc.ID
			wc.Type = "function"
			wc.Function.Name = tc.Name
			wc.Function.Arguments = string(tc.Args)
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		body.Messages = append(body.Messages, wm)
	}
	for _, t := range req.Tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		body.Tools = append(body.Tools, wireTool{
			Type:     "function",
			Function: wireFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if req.ResponseSchema != nil && len(req.ResponseSchema.Schema) > 0 {
		body.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   req.ResponseSchema.Name,
				Schema: req.ResponseSchema.Schema,
				Strict: true,
			},
		}
	}
	return body
}

// parseResult converts the wire response to a steward ChatResponse.
func parseResult(res chatResult) steward.ChatResponse {
	var out steward.ChatResponse
	if len(res.Choices) == 0 {
		return out
	}
	msg := res.Choices[0].Message
	out.Content = msg.Content
	for _, wc := range msg.ToolCalls {
		args := json.RawMessage(wc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, steward.ToolCall{
			ID:   wc.ID,
			Name: wc.Function.Name,
			Args: args,
		})
	}
	if res.Usage != nil {
		out.Usage = steward.Usage{
			InputTokens:  res.Usage.PromptTokens,
			OutputTokens: res.Usage.CompletionTokens,
		}
	}
	return out
}

// isContextOverflow sniffs the provider error text for context-length
// failures, which OpenAI-compatible APIs report as 400s with varying codes.
func isContextOverflow(apiErr *apiError, body string) bool {
	if apiErr != nil {
		if code, ok := apiErr.Code.(string); ok && code == "context_length_exceeded" {
			return true
		}
		body = apiErr.Message
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "context length") ||
		strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "maximum context") ||
		strings.Contains(lower, "too many tokens")
}
