// Package llm provides the chat-completion clients behind the embedded
// expensive classifier.
//
// Two providers satisfy Completer:
//   - Client talks to any OpenRouter/OpenAI-compatible chat completions
//     endpoint over plain HTTP.
//   - AnthropicClient uses the Anthropic Messages API through the official SDK.
//
// New selects the provider from Config.Provider.
//
// # Retry Behaviour
//
// Both providers share one attempt loop. HTTP 408/429/5xx replies, empty
// completions and network timeouts are retried with exponential backoff
// (base 1s, max 10s) plus jitter; a Retry-After header overrides the computed
// delay. Anthropic SDK errors are mapped onto the same status classification
// and the SDK's own retries are disabled. Context cancellation aborts retries
// immediately.
//
// # Rate Limiting
//
// Config.RequestsPerMinute installs a token-bucket limiter shared by every
// attempt, so retries count against the budget too.
//
// # Decoding
//
// DecodeLLMJSON tolerates the usual model quirks: code fences and prose
// around the JSON object.
package llm
