// Package provider is the narrow contract to the external LLM service.
// Failures surface as typed error codes so node executors can convert them
// into failed outcomes instead of crashing the step loop.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Error codes surfaced on node results when a provider call fails.
const (
	ErrCodeRateLimit     = "PROVIDER_RATE_LIMIT"
	ErrCodeTimeout       = "PROVIDER_TIMEOUT"
	ErrCodeSchemaInvalid = "SCHEMA_INVALID"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// TokenUsage reports token accounting for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of one model call.
type Completion struct {
	Content string     `json:"content"`
	Usage   TokenUsage `json:"usage"`
}

// Client is the LLM collaborator contract.
type Client interface {
	Complete(ctx context.Context, systemPrompt string, messages []Message) (*Completion, error)
}

// Error wraps a provider failure with a routable code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// CodeOf extracts the provider error code, defaulting to timeout for
// deadline errors and schema-invalid otherwise.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}
	return ErrCodeSchemaInvalid
}

// OpenAIClient implements Client against OpenAI-compatible chat APIs.
type OpenAIClient struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(endpoint, apiKey, model string, timeout time.Duration) *OpenAIClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage TokenUsage `json:"usage"`
}

// Complete sends a chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt string, messages []Message) (*Completion, error) {
	all := make([]Message, 0, len(messages)+1)
	if systemPrompt != "" {
		all = append(all, Message{Role: "system", Content: systemPrompt})
	}
	all = append(all, messages...)

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: all})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", c.endpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, &Error{Code: ErrCodeTimeout, Message: err.Error()}
		}
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &Error{Code: ErrCodeRateLimit, Message: "rate limited by provider"}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Code: ErrCodeSchemaInvalid, Message: fmt.Sprintf("failed to decode response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Code: ErrCodeSchemaInvalid, Message: "empty completion from provider"}
	}

	return &Completion{
		Content: parsed.Choices[0].Message.Content,
		Usage:   parsed.Usage,
	}, nil
}
