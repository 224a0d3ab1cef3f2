// Package fastclf is the adapter for a remote fast classifier service that
// speaks POST /predict {text, levels}.
package fastclf

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

const component = "fast-client"

// DefaultTimeout bounds one prediction call when none is configured.
const DefaultTimeout = 10 * time.Second

// Client calls the fast classifier over HTTP.
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

// Predict requests candidates for levels. Every failure, timeouts included,
// is tagged services.ErrUpstream. The returned duration is the wall-clock
// time of the call; the service's own figure is kept in metadata.
func (c *Client) Predict(ctx context.Context, text string, levels []hierarchy.Level) (prediction.FastResult, error) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp api.FastPredictResponse
	err := services.DoJSON(callCtx, c.httpClient, http.MethodPost, c.baseURL+"/predict", api.FastPredictRequest{
		Text:   text,
		Levels: hierarchy.Strings(levels),
	}, &resp)
	elapsed := time.Since(start)
	if err != nil {
		message := "fast classifier request failed"
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			message = "fast classifier timed out after " + c.timeout.String()
		}
		return prediction.FastResult{}, services.Wrap(services.ErrUpstream, component, "predict", message, err)
	}

	result := resp.FastResult()
	if result.Metadata == nil {
		result.Metadata = map[string]any{}
	}
	result.Metadata["service_duration_seconds"] = resp.Duration
	result.Duration = elapsed

	logging.WithContext(ctx, c.logger).Debug("fast prediction received",
		logging.Int("levels", len(result.Predictions)),
		logging.Duration("duration", elapsed),
	)
	return result, nil
}

// HealthCheck probes GET /health on the service.
func (c *Client) HealthCheck(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := services.DoJSON(callCtx, c.httpClient, http.MethodGet, c.baseURL+"/health", nil, nil); err != nil {
		return services.Wrap(services.ErrUpstream, component, "health", "fast classifier unhealthy", err)
	}
	return nil
}
