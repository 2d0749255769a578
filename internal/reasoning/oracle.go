// Package reasoning implements Tier 2 of the extraction cascade: invoking a
// text-reasoning oracle over unstructured document text with a
// schema-constrained prompt, and validating every response before it is
// trusted. The oracle is a consumed dependency; this package owns validation.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Oracle is the consumed interface to the reasoning backend. The raw text it
// returns is never trusted until it passes schema validation in this package.
type Oracle interface {
	Infer(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// =============================================================================
// HTTP ORACLE (OpenAI-compatible chat completions)
// =============================================================================

// HTTPOracle implements Oracle over an OpenAI-compatible chat endpoint.
type HTTPOracle struct {
	apiKey      string
	baseURL     string
	model       string
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// HTTPOracleConfig holds configuration for the HTTP oracle.
type HTTPOracleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// NewHTTPOracle creates an oracle client with the given config.
func NewHTTPOracle(config HTTPOracleConfig) *HTTPOracle {
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}
	return &HTTPOracle{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Infer implements Oracle.
func (o *HTTPOracle) Infer(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	// Rate limiting: at least 600ms between requests.
	o.mu.Lock()
	elapsed := time.Since(o.lastRequest)
	if elapsed < 600*time.Millisecond {
		time.Sleep(600*time.Millisecond - elapsed)
	}
	o.lastRequest = time.Now()
	o.mu.Unlock()

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := chatRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: 0.1, // Low temperature for structured output
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	// Retry loop for 429 errors with exponential backoff: 1s, 2s, 4s.
	maxRetries := 3
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+o.apiKey)

		resp, err := o.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limit exceeded (429)")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("oracle request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var cr chatResponse
		if err := json.Unmarshal(body, &cr); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if cr.Error != nil {
			return "", fmt.Errorf("oracle error: %s", cr.Error.Message)
		}
		if len(cr.Choices) == 0 {
			return "", fmt.Errorf("no completion returned")
		}
		return strings.TrimSpace(cr.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// SetModel changes the model used for inference.
func (o *HTTPOracle) SetModel(model string) { o.model = model }

// Model returns the current model.
func (o *HTTPOracle) Model() string { return o.model }
