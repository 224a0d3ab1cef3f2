// Package llmclf is the adapter for a remote expensive classifier service
// that speaks POST /predict {text, predict, context}.
package llmclf

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"tagrouter/internal/api"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/prediction"
	"tagrouter/internal/services"
)

const component = "llm-client"

// DefaultTimeout bounds one prediction call when none is configured. The
// service retries its own LLM calls, so this is generous.
const DefaultTimeout = 60 * time.Second

// Client calls the expensive classifier over HTTP.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client for the service rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout:    timeout,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger(logger, component),
	}
}

// Predict asks the service to classify levels given the known context.
// Failures are tagged services.ErrDownstream; a cancelled caller context is
// returned as is.
func (c *Client) Predict(ctx context.Context, text string, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp api.ExpensivePredictResponse
	err := services.DoJSON(callCtx, c.httpClient, http.MethodPost, c.baseURL+"/predict", api.ExpensivePredictRequest{
		Text:    text,
		Predict: hierarchy.Strings(levels),
		Context: api.ContextToWire(known),
	}, &resp)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		message := "expensive classifier request failed"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "expensive classifier timed out after " + c.timeout.String()
		}
		return nil, services.Wrap(services.ErrDownstream, component, "predict", message, err)
	}

	result := resp.ExpensiveResult()
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["service_duration_seconds"] = resp.Duration
	result.Duration = elapsed

	logging.WithContext(ctx, c.logger).Debug("expensive prediction received",
		logging.Int("levels", len(result.Predictions)),
		logging.Duration("duration", elapsed),
	)
	return &result, nil
}

// HealthCheck probes GET /health on the service.
func (c *Client) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := services.DoJSON(callCtx, c.httpClient, http.MethodGet, c.baseURL+"/health", nil, nil); err != nil {
		return services.Wrap(services.ErrDownstream, component, "health", "expensive classifier unhealthy", err)
	}
	return nil
}
