// Package orchestrator runs one classification request end to end: fast
// prediction, confidence evaluation, optional escalation to the expensive
// classifier, and aggregation.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/prediction"
	"tagrouter/internal/services"
)

const component = "orchestrator"

// FastPredictor returns ranked candidates for each requested level.
type FastPredictor interface {
	Predict(ctx context.Context, text string, levels []hierarchy.Level) (prediction.FastResult, error)
}

// ExpensivePredictor re-predicts escalated levels given the settled context.
type ExpensivePredictor interface {
	Predict(ctx context.Context, text string, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error)
}

// ThresholdSource yields the thresholds for a request and names where they
// came from.
type ThresholdSource interface {
	Thresholds(ctx context.Context) (escalation.Thresholds, string)
}

// Orchestrator sequences the classifiers for a request. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	fast             FastPredictor
	expensive        ExpensivePredictor
	thresholds       ThresholdSource
	fastTimeout      time.Duration
	expensiveTimeout time.Duration
	maxChars         int
	logger           *slog.Logger
}

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithExpensive sets the expensive classifier. Without one, escalated levels
// keep their fast predictions.
func WithExpensive(expensive ExpensivePredictor) Option {
	return func(o *Orchestrator) { o.expensive = expensive }
}

// WithThresholdSource sets where per-request thresholds are read from.
func WithThresholdSource(source ThresholdSource) Option {
	return func(o *Orchestrator) { o.thresholds = source }
}

// WithTimeouts bounds the fast and expensive calls. Zero leaves a call
// bounded only by the caller's context.
func WithTimeouts(fast, expensive time.Duration) Option {
	return func(o *Orchestrator) {
		o.fastTimeout = fast
		o.expensiveTimeout = expensive
	}
}

// WithMaxChars truncates request text to n runes before classification.
func WithMaxChars(n int) Option {
	return func(o *Orchestrator) { o.maxChars = n }
}

// New constructs an orchestrator around the fast classifier.
func New(fast FastPredictor, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		fast:   fast,
		logger: logging.NewComponentLogger(logger, component),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Ready reports services.ErrNotReady when the fast classifier is missing.
func (o *Orchestrator) Ready() error {
	if o == nil || o.fast == nil {
		return services.Wrap(services.ErrNotReady, component, "ready", "fast classifier not initialized", nil)
	}
	return nil
}

// EscalationEnabled reports whether an expensive classifier is configured.
func (o *Orchestrator) EscalationEnabled() bool {
	return o != nil && o.expensive != nil
}

func (o *Orchestrator) currentThresholds(ctx context.Context) (escalation.Thresholds, string) {
	if o.thresholds == nil {
		return escalation.DefaultThresholds(), "defaults"
	}
	return o.thresholds.Thresholds(ctx)
}
