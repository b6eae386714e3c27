// Package embedding is the one-shot text-to-vector client (C3): a
// fixed-dimension embedding for any non-empty text, deterministic for a
// given provider. Structured like internal/llm's chat-completions
// client, against a Voyage-AI-shaped /v1/embeddings endpoint (grounded
// in original_source/vector_search.py's voyage-2 usage).
package embedding

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
	"github.com/chadiek/receptionist/internal/model"
)

// Client produces EmbDim-length embedding vectors over HTTP.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

// New constructs a Client with the teacher's standard 15s HTTP timeout.
func New(apiKey, baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      "voyage-2",
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns a length-model.EmbDim vector of finite floats for text.
// Empty or whitespace-only input fails with EmbeddingInvalidInput
// without a network round trip. Transport or non-2xx errors fail with
// EmbeddingUnavailable.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.EmbeddingInvalidInput
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding api key missing", errs.EmbeddingUnavailable)
	}

	body, err := json.Marshal(embedRequest{Input: []string{text}, Model: c.Model})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.EmbeddingUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.EmbeddingUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.EmbeddingUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status=%d body=%s", errs.EmbeddingUnavailable, resp.StatusCode, string(b))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.EmbeddingUnavailable, err)
	}
	if len(er.Data) == 0 || len(er.Data[0].Embedding) != model.EmbDim {
		return nil, fmt.Errorf("%w: provider returned %d dimensions, want %d", errs.EmbeddingUnavailable, dims(er), model.EmbDim)
	}
	return er.Data[0].Embedding, nil
}

func dims(er embedResponse) int {
	if len(er.Data) == 0 {
		return 0
	}
	return len(er.Data[0].Embedding)
}
