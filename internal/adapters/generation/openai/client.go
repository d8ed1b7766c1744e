// Package openai talks to any endpoint that implements the OpenAI chat
// completions wire format.
package openai

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

	"github.com/spf13/viper"

	"github.com/bnema/venue-concierge/internal/domain"
	"github.com/bnema/venue-concierge/internal/ports"
)

const (
	baseURLKey   = "generation.base_url"
	modelKey     = "generation.model"
	apiKeyKey    = "generation.api_key"
	maxTokensKey = "generation.max_tokens"

	defaultBaseURL   = "https://api.openai.com/v1"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 400
	requestTimeout   = 30 * time.Second
	errorBodyLimit   = 4096
)

var _ ports.Generator = (*Client)(nil)

type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
	maxTokens  int

	keySource func(context.Context) (string, error)
	keyMu     sync.Mutex
}

type Option func(*Client)

// WithKeySource supplies the API key on first use when generation.api_key
// is empty. A successful lookup is kept for the life of the client.
func WithKeySource(source func(context.Context) (string, error)) Option {
	return func(c *Client) { c.keySource = source }
}

func New(cfg *viper.Viper, httpClient *http.Client, opts ...Option) *Client {
	if cfg == nil {
		cfg = viper.New()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	baseURL := strings.TrimRight(cfg.GetString(baseURLKey), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.GetString(modelKey)
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.GetInt(maxTokensKey)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	client := &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		model:      model,
		apiKey:     cfg.GetString(apiKeyKey),
		maxTokens:  maxTokens,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Generate sends history followed by prompt as the latest user message.
// Transport failures and non-200 answers are provider failures.
func (c *Client) Generate(ctx context.Context, prompt string, history []domain.Turn) (ports.Generation, error) {
	wireRequest := c.buildRequest(prompt, history)

	body, err := json.Marshal(wireRequest)
	if err != nil {
		return ports.Generation{}, fmt.Errorf("generation: marshaling request: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ports.Generation{}, fmt.Errorf("generation: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	apiKey, err := c.resolveKey(ctx)
	if err != nil {
		return ports.Generation{}, domain.ProviderFailure(fmt.Errorf("generation: resolving api key: %w", err))
	}
	if apiKey != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResponse, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return ports.Generation{}, domain.ProviderFailure(fmt.Errorf("generation: sending request: %w", err))
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return ports.Generation{}, domain.ProviderFailure(readProviderError(httpResponse))
	}

	var wireResponse chatResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&wireResponse); err != nil {
		return ports.Generation{}, domain.ProviderFailure(fmt.Errorf("generation: decoding response: %w", err))
	}
	if len(wireResponse.Choices) == 0 {
		return ports.Generation{}, domain.ProviderFailure(fmt.Errorf("generation: response has no choices"))
	}

	model := wireResponse.Model
	if model == "" {
		model = c.model
	}
	return ports.Generation{
		Text: strings.TrimSpace(wireResponse.Choices[0].Message.Content),
		Usage: domain.Usage{
			InputTokens:  wireResponse.Usage.PromptTokens,
			OutputTokens: wireResponse.Usage.CompletionTokens,
		},
		Model: model,
	}, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()

	if c.apiKey != "" || c.keySource == nil {
		return c.apiKey, nil
	}
	key, err := c.keySource(ctx)
	if err != nil {
		return "", err
	}
	c.apiKey = strings.TrimSpace(key)
	return c.apiKey, nil
}

func (c *Client) buildRequest(prompt string, history []domain.Turn) chatRequest {
	wireRequest := chatRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  make([]chatMessage, 0, len(history)+1),
	}
	for _, turn := range history {
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "assistant"
		}
		wireRequest.Messages = append(wireRequest.Messages, chatMessage{Role: role, Content: turn.Text})
	}
	wireRequest.Messages = append(wireRequest.Messages, chatMessage{Role: "user", Content: prompt})
	return wireRequest
}

// ProviderError is a non-200 answer in the common
// {"error":{"type":"...","message":"..."}} shape.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("generation: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("generation: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
}

func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, errorBodyLimit))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{StatusCode: httpResponse.StatusCode, Message: strings.TrimSpace(string(body))}
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}
