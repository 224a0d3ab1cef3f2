package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusError is a non-2xx reply from either provider.
type statusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s request: http %d: %s", e.Provider, e.StatusCode, strings.TrimSpace(e.Body))
}

// emptyAnswerError is a successful reply that carried no usable text.
type emptyAnswerError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyAnswerError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op, e.FinishReason, e.Refusal, e.Snippet)
}

// transient reports whether a failed attempt may succeed on repeat, and the
// wait the server asked for when it named one.
func transient(err error) (time.Duration, bool) {
	var empty *emptyAnswerError
	if errors.As(err, &empty) {
		return 0, true
	}
	var status *statusError
	if errors.As(err, &status) {
		if status.StatusCode == http.StatusRequestTimeout ||
			status.StatusCode == http.StatusTooManyRequests ||
			status.StatusCode >= http.StatusInternalServerError {
			return status.RetryAfter, true
		}
		return 0, false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return 0, true
	}
	return 0, false
}

// run drives one completion through the shared attempt budget. Every attempt
// waits on the rate limiter first; caller cancellation and permanent errors
// end the loop at once.
func (o *options) run(ctx context.Context, op string, attempt func(context.Context) (string, error)) (string, error) {
	budget := o.retryAttempts()
	for n := 1; ; n++ {
		if err := o.wait(ctx); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		content, err := attempt(ctx)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		after, ok := transient(err)
		if !ok {
			return "", err
		}
		if n >= budget {
			if budget == 1 {
				return "", err
			}
			return "", fmt.Errorf("%s: giving up after %d attempts: %w", op, n, err)
		}
		delay := o.backoffDelay(n)
		if after > 0 {
			delay = o.capDelay(after)
		}
		if err := o.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (o *options) retryAttempts() int {
	if o.retryMaxAttempts <= 0 {
		return 1
	}
	return o.retryMaxAttempts
}

// backoffDelay doubles the base delay per attempt (attempt is 1-based) and
// applies jitter below the cap.
func (o *options) backoffDelay(attempt int) time.Duration {
	if o.retryBaseDelay <= 0 {
		return 0
	}
	delay := o.retryBaseDelay
	for i := 1; i < attempt && delay < o.maxDelay(); i++ {
		delay *= 2
	}
	delay = o.capDelay(delay)
	if o.jitter != nil {
		delay = o.jitter(delay)
	}
	return delay
}

func (o *options) maxDelay() time.Duration {
	if o.retryMaxDelay > 0 {
		return o.retryMaxDelay
	}
	return defaultRetryMaxDelay
}

func (o *options) capDelay(delay time.Duration) time.Duration {
	return min(max(delay, 0), o.maxDelay())
}

func (o *options) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if o.sleeper != nil {
		o.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return max(time.Duration(seconds)*time.Second, 0)
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}
