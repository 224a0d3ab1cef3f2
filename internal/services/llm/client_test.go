package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func chatServer(t *testing.T, handler func(w http.ResponseWriter, calls int)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, int(calls.Add(1)))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func writeChoices(t *testing.T, w http.ResponseWriter, choices ...map[string]any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(map[string]any{"choices": choices}); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestClientHealthCheck(t *testing.T) {
	server, _ := chatServer(t, func(w http.ResponseWriter, _ int) {
		writeChoices(t, w, map[string]any{"message": map[string]any{"content": `{"ok":true}`}})
	})

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server, _ := chatServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	})

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestClientCompleteJSONSendsRequest(t *testing.T) {
	var got chatRequest
	var auth, title string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		title = r.Header.Get("X-Title")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeChoices(t, w, map[string]any{"message": map[string]any{"content": `{"pred":"Earnings"}`}})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "secret", BaseURL: server.URL, Model: "demo-model", Title: "tagrouter", MaxTokens: 256})
	content, err := client.CompleteJSON(context.Background(), " system ", " user ")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"pred":"Earnings"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if auth != "Bearer secret" || title != "tagrouter" {
		t.Fatalf("unexpected headers auth=%q title=%q", auth, title)
	}
	if got.Model != "demo-model" || got.MaxTokens != 256 || len(got.Messages) != 2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Messages[0].Content != "system" || got.Messages[1].Content != "user" {
		t.Fatalf("expected trimmed prompts, got %+v", got.Messages)
	}
	if got.ResponseFormat["type"] != jsonResponseType {
		t.Fatalf("expected json response format, got %v", got.ResponseFormat)
	}
}

func TestClientCompleteJSONRequiresInputs(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		system string
		user   string
		want   string
	}{
		{"system", "k", " ", "u", "system prompt required"},
		{"user", "k", "s", "", "user prompt required"},
		{"key", "", "s", "u", "api key required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(Config{APIKey: tt.key, BaseURL: "http://127.0.0.1:1"})
			_, err := client.CompleteJSON(context.Background(), tt.system, tt.user)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestClientCompletionPayloadShapes(t *testing.T) {
	tests := []struct {
		name   string
		choice map[string]any
		want   string
	}{
		{
			name:   "tool call arguments",
			choice: map[string]any{"finish_reason": "tool_calls", "message": map[string]any{"content": "", "tool_calls": []any{map[string]any{"type": "function", "id": "call_1", "function": map[string]any{"name": "classify", "arguments": `{"pred":"IPO"}`}}}}},
			want:   `{"pred":"IPO"}`,
		},
		{
			name:   "delta content",
			choice: map[string]any{"delta": map[string]any{"content": `{"pred":"Fine"}`}},
			want:   `{"pred":"Fine"}`,
		},
		{
			name:   "legacy text",
			choice: map[string]any{"finish_reason": "stop", "text": `{"pred":"Dividend"}`},
			want:   `{"pred":"Dividend"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := chatServer(t, func(w http.ResponseWriter, _ int) {
				writeChoices(t, w, tt.choice)
			})
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
			content, err := client.CompleteJSON(context.Background(), "system", "user")
			if err != nil {
				t.Fatalf("CompleteJSON returned error: %v", err)
			}
			if content != tt.want {
				t.Fatalf("content = %q, want %q", content, tt.want)
			}
		})
	}
}

func TestClientEmptyContentHasSnippet(t *testing.T) {
	server, calls := chatServer(t, func(w http.ResponseWriter, _ int) {
		writeChoices(t, w, map[string]any{"finish_reason": "stop", "message": map[string]any{"content": ""}})
	})

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model", MaxAttempts: 2},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected configured attempt budget of 2, got %d", calls.Load())
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	server, calls := chatServer(t, func(w http.ResponseWriter, n int) {
		if n == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		writeChoices(t, w, map[string]any{"message": map[string]any{"content": `{"pred":"Earnings"}`}})
	})

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	server, calls := chatServer(t, func(w http.ResponseWriter, _ int) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	})

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil || !strings.Contains(err.Error(), "http 400") {
		t.Fatalf("expected http 400 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestClientRetriesOnEmptyContentThenSucceeds(t *testing.T) {
	server, calls := chatServer(t, func(w http.ResponseWriter, n int) {
		content := ""
		if n >= 3 {
			content = `{"pred":"Inflation"}`
		}
		writeChoices(t, w, map[string]any{"finish_reason": "stop", "message": map[string]any{"content": content}})
	})

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(5),
	)
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"pred":"Inflation"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClientRateLimiterHonoursContext(t *testing.T) {
	server, calls := chatServer(t, func(w http.ResponseWriter, _ int) {
		writeChoices(t, w, map[string]any{"message": map[string]any{"content": `{}`}})
	})

	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	limiter.Allow()
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL}, WithLimiter(limiter))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.CompleteJSON(ctx, "system", "user")
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no request while throttled, got %d", calls.Load())
	}
}

func TestBackoffDelayJitterStaysWithinBounds(t *testing.T) {
	opts := options{
		retryBaseDelay: time.Second,
		retryMaxDelay:  10 * time.Second,
		jitter:         equalJitter,
	}
	for i := 0; i < 50; i++ {
		delay := opts.backoffDelay(3)
		if delay < 2*time.Second || delay > 4*time.Second {
			t.Fatalf("delay %s outside [2s, 4s]", delay)
		}
	}
	if delay := opts.backoffDelay(10); delay > 10*time.Second {
		t.Fatalf("delay %s exceeds cap", delay)
	}
	opts.jitter = nil
	if delay := opts.backoffDelay(2); delay != 2*time.Second {
		t.Fatalf("expected deterministic 2s without jitter, got %s", delay)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"", false},
		{ProviderOpenRouter, false},
		{"Anthropic", false},
		{"other", true},
	}
	for _, tt := range tests {
		completer, err := New(Config{Provider: tt.provider, APIKey: "k"})
		if tt.wantErr {
			if err == nil {
				t.Fatalf("provider %q: expected error", tt.provider)
			}
			continue
		}
		if err != nil {
			t.Fatalf("provider %q: %v", tt.provider, err)
		}
		switch completer.(type) {
		case *AnthropicClient:
			if !strings.EqualFold(tt.provider, ProviderAnthropic) {
				t.Fatalf("provider %q built anthropic client", tt.provider)
			}
		case *Client:
			if strings.EqualFold(tt.provider, ProviderAnthropic) {
				t.Fatalf("provider %q built openrouter client", tt.provider)
			}
		}
	}
}

func TestAnthropicClientCompleteJSON(t *testing.T) {
	var path, apiKey string
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"ok\":true}"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(Config{APIKey: "anthropic-key", BaseURL: server.URL, Model: "claude-test", MaxAttempts: 1})
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"ok":true}` {
		t.Fatalf("unexpected content %q", content)
	}
	if path != "/v1/messages" || apiKey != "anthropic-key" {
		t.Fatalf("unexpected request path=%q key=%q", path, apiKey)
	}
	if body["model"] != "claude-test" {
		t.Fatalf("unexpected model in body: %v", body["model"])
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestAnthropicClientSharesRetryBudget(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"id": "msg_02",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [{"type": "text", "text": "{\"pred\":\"Earnings\"}"}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewAnthropicClient(
		Config{APIKey: "anthropic-key", BaseURL: server.URL, Model: "claude-test", MaxAttempts: 3},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
	)
	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("CompleteJSON returned error: %v", err)
	}
	if content != `{"pred":"Earnings"}` {
		t.Fatalf("unexpected content %q", content)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected one 2s sleep from Retry-After, got %v", slept)
	}
}

func TestAnthropicClientDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	client := NewAnthropicClient(
		Config{APIKey: "anthropic-key", BaseURL: server.URL, Model: "claude-test", MaxAttempts: 3},
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil || !strings.Contains(err.Error(), "http 400") {
		t.Fatalf("expected http 400 error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestTransientClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
		wantAfter time.Duration
	}{
		{"empty answer", &emptyAnswerError{Op: "op"}, true, 0},
		{"rate limited", &statusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 3 * time.Second}, true, 3 * time.Second},
		{"server error", fmt.Errorf("wrapped: %w", &statusError{StatusCode: http.StatusBadGateway}), true, 0},
		{"unauthorized", &statusError{StatusCode: http.StatusUnauthorized}, false, 0},
		{"plain error", errors.New("boom"), false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			after, retry := transient(tt.err)
			if retry != tt.wantRetry || after != tt.wantAfter {
				t.Fatalf("transient() = (%s, %v), want (%s, %v)", after, retry, tt.wantAfter, tt.wantRetry)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("5"); got != 5*time.Second {
		t.Fatalf("seconds form = %s", got)
	}
	if got := parseRetryAfter("-1"); got != 0 {
		t.Fatalf("negative form = %s", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Fatalf("garbage form = %s", got)
	}
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 59*time.Minute {
		t.Fatalf("date form = %s", got)
	}
}
