package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	jsonResponseType     = "json_object"
	defaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"
)

// Client talks to an OpenRouter/OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg Config
	options
}

// NewClient constructs a chat completions client. An empty BaseURL selects
// OpenRouter.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.normalized()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterURL
	}
	return &Client{cfg: cfg, options: resolveOptions(cfg, opts)}
}

// prompt is a validated system/user pair.
type prompt struct {
	system string
	user   string
}

func newPrompt(op, apiKey, system, user string) (prompt, error) {
	p := prompt{system: strings.TrimSpace(system), user: strings.TrimSpace(user)}
	switch {
	case p.system == "":
		return prompt{}, fmt.Errorf("%s: system prompt required", op)
	case p.user == "":
		return prompt{}, fmt.Errorf("%s: user prompt required", op)
	case apiKey == "":
		return prompt{}, fmt.Errorf("%s: api key required", op)
	}
	return p, nil
}

var healthPrompt = prompt{
	system: "You must respond with JSON only.",
	user:   `Respond with {"ok":true}`,
}

func checkHealthPayload(content string) error {
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeLLMJSON(content, &parsed); err != nil {
		return fmt.Errorf("llm health: parse payload: %w", err)
	}
	if !parsed.OK {
		return errors.New("llm health: unexpected response")
	}
	return nil
}

// CompleteJSON asks for a JSON-only answer and returns the raw payload.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	const op = "llm complete"
	p, err := newPrompt(op, c.cfg.APIKey, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}
	payload := c.request(p, c.cfg.MaxTokens)
	return c.run(ctx, op, func(ctx context.Context) (string, error) {
		return c.chat(ctx, op, payload)
	})
}

// HealthCheck issues a tiny request to verify the API key and model.
func (c *Client) HealthCheck(ctx context.Context) error {
	const op = "llm health"
	if c.cfg.APIKey == "" {
		return errors.New("llm health: api key required")
	}
	payload := c.request(healthPrompt, 0)
	content, err := c.run(ctx, op, func(ctx context.Context) (string, error) {
		return c.chat(ctx, op, payload)
	})
	if err != nil {
		return err
	}
	return checkHealthPayload(content)
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) request(p prompt, maxTokens int) chatRequest {
	return chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.system},
			{Role: "user", Content: p.user},
		},
		MaxTokens:      maxTokens,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type chatChoice struct {
	Message chatReply `json:"message"`
	// Some providers answer with the streaming schema even when stream=false.
	Delta        chatReply `json:"delta"`
	Text         string    `json:"text"`
	FinishReason string    `json:"finish_reason"`
}

type chatReply struct {
	Content   string `json:"content"`
	Refusal   string `json:"refusal"`
	ToolCalls []struct {
		Function struct {
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

// text returns the first non-empty answer a choice carries: plain content in
// any schema, then tool call arguments.
func (ch chatChoice) text() string {
	for _, candidate := range []string{ch.Message.Content, ch.Delta.Content, ch.Text} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	for _, reply := range []chatReply{ch.Message, ch.Delta} {
		for _, call := range reply.ToolCalls {
			if args := strings.TrimSpace(call.Function.Arguments); args != "" {
				return args
			}
		}
	}
	return ""
}

// chat performs one attempt and returns the answer text.
func (c *Client) chat(ctx context.Context, op string, payload chatRequest) (string, error) {
	body, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s: api error: %s", op, strings.TrimSpace(resp.Error.Message))
	}

	empty := &emptyAnswerError{Op: op, Snippet: summarizePayloadSnippet(string(body))}
	for _, choice := range resp.Choices {
		if text := choice.text(); text != "" {
			return text, nil
		}
		if empty.FinishReason == "" {
			empty.FinishReason = strings.TrimSpace(choice.FinishReason)
		}
		if empty.Refusal == "" {
			empty.Refusal = strings.TrimSpace(choice.Message.Refusal + choice.Delta.Refusal)
		}
	}
	return "", empty
}

func (c *Client) post(ctx context.Context, payload chatRequest) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("llm request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("llm request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return body, &statusError{
			Provider:   "llm",
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}
