package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient completes prompts through the Anthropic Messages API.
type AnthropicClient struct {
	cfg    Config
	client anthropic.Client
	options
}

// NewAnthropicClient constructs an Anthropic-backed Completer. BaseURL is
// optional and mainly useful for pointing at a local test server. The SDK's
// own retries are off; attempts go through the shared budget and limiter.
func NewAnthropicClient(cfg Config, opts ...Option) *AnthropicClient {
	cfg = cfg.normalized()
	resolved := resolveOptions(cfg, opts)
	requestOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(resolved.httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		cfg:     cfg,
		client:  anthropic.NewClient(requestOpts...),
		options: resolved,
	}
}

// CompleteJSON sends the prompts as a single-turn conversation and returns
// the first text block of the reply.
func (c *AnthropicClient) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	const op = "anthropic complete"
	p, err := newPrompt(op, c.cfg.APIKey, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	return c.run(ctx, op, func(ctx context.Context) (string, error) {
		return c.message(ctx, op, p, c.cfg.MaxTokens)
	})
}

// HealthCheck verifies the API key and model with a tiny request.
func (c *AnthropicClient) HealthCheck(ctx context.Context) error {
	const op = "anthropic health"
	if c.cfg.APIKey == "" {
		return errors.New("anthropic health: api key required")
	}
	content, err := c.run(ctx, op, func(ctx context.Context) (string, error) {
		return c.message(ctx, op, healthPrompt, 32)
	})
	if err != nil {
		return err
	}
	return checkHealthPayload(content)
}

func (c *AnthropicClient) message(ctx context.Context, op string, p prompt, maxTokens int) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.cfg.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(0),
		System: []anthropic.TextBlockParam{
			{Text: p.system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, anthropicFailure(err))
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			if text := strings.TrimSpace(block.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", &emptyAnswerError{
		Op:           op,
		FinishReason: string(message.StopReason),
		Snippet:      "<no text blocks>",
	}
}

// anthropicFailure turns SDK API errors into statusError so the shared retry
// policy sees the status code and any Retry-After header.
func anthropicFailure(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	status := &statusError{
		Provider:   "anthropic",
		StatusCode: apiErr.StatusCode,
		Body:       apiErr.Error(),
	}
	if apiErr.Response != nil {
		status.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return status
}
