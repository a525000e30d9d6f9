// Package analysis produces trading recommendations by prompting an
// OpenAI-compatible chat model. The Analyst reviews instruments and
// positions; the DecisionMaker allocates buy budgets across candidates.
// Both are fail-soft: an LLM error yields no recommendation, never a
// crashed workflow.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ChatClient is the minimal LLM contract the agents need.
type ChatClient interface {
	// Complete sends one user prompt and returns the assistant reply. When
	// jsonMode is set, the model is asked to emit a JSON object.
	Complete(ctx context.Context, prompt string, jsonMode bool) (string, error)
}

// HTTPChatClient talks to an OpenAI-compatible /chat/completions endpoint.
type HTTPChatClient struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
	log     *slog.Logger
}

var _ ChatClient = (*HTTPChatClient)(nil)

// NewHTTPChatClient creates a client for the given endpoint and model.
func NewHTTPChatClient(baseURL, apiKey, model string, timeout time.Duration, log *slog.Logger) *HTTPChatClient {
	return &HTTPChatClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpc:   &http.Client{Timeout: timeout},
		log:     log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements ChatClient.
func (c *HTTPChatClient) Complete(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model:    c.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}
	if jsonMode {
		reqBody.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("llm: status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
