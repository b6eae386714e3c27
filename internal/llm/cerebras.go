// Package llm is the reasoning driver (C6): a prompted, bounded
// tool-calling loop against an external LLM. Transport is an
// OpenAI-compatible chat-completions client (the wire shape Cerebras
// and Fireworks both expose), adapted from a single-shot Generate
// client into one that also carries tools/tool_choice and executed
// tool results back to the model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/receptionist/internal/errs"
)

// Client is the HTTP transport to an OpenAI-compatible chat-completions
// endpoint.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

// NewClient constructs a Client with the teacher's standard 15s
// request timeout.
func NewClient(apiKey, baseURL, model string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      model,
	}
}

// Message is one chat-completions message, including the tool-calling
// extensions (tool_calls on an assistant message, tool_call_id on a
// tool-result message).
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured function-invocation request emitted by the
// model.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ToolSchema describes one callable tool in the OpenAI function-calling
// shape.
type ToolSchema struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Parameters  any    `json:"parameters"`
	} `json:"function"`
}

type chatCompletionsRequest struct {
	Model          string       `json:"model"`
	Messages       []Message    `json:"messages"`
	Tools          []ToolSchema `json:"tools,omitempty"`
	ToolChoice     string       `json:"tool_choice,omitempty"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

// complete is the shared low-level request/response plumbing; callers
// supply the exact request shape they need.
func (c *Client) complete(ctx context.Context, req chatCompletionsRequest) (Message, error) {
	if c.APIKey == "" {
		return Message{}, fmt.Errorf("%w: reasoning api key missing", errs.ReasoningUnavailable)
	}
	req.Model = c.Model

	body, err := json.Marshal(req)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", errs.ReasoningUnavailable, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", errs.ReasoningUnavailable, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", errs.ReasoningUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Message{}, fmt.Errorf("%w: status=%d body=%s", errs.ReasoningUnavailable, resp.StatusCode, string(b))
	}

	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Message{}, fmt.Errorf("%w: %v", errs.ReasoningUnavailable, err)
	}
	if len(cr.Choices) == 0 {
		return Message{}, fmt.Errorf("%w: empty choices", errs.ReasoningUnavailable)
	}
	msg := cr.Choices[0].Message
	msg.Content = strings.TrimSpace(msg.Content)
	return msg, nil
}

// completeWithRetry applies the failure model from spec.md §4.C6:
// model transport error retries once with a 250ms backoff.
func (c *Client) completeWithRetry(ctx context.Context, req chatCompletionsRequest) (Message, error) {
	msg, err := c.complete(ctx, req)
	if err == nil {
		return msg, nil
	}
	select {
	case <-time.After(250 * time.Millisecond):
	case <-ctx.Done():
		return Message{}, err
	}
	return c.complete(ctx, req)
}
