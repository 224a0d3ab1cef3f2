package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tagrouter/internal/aggregate"
	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/prediction"
	"tagrouter/internal/services"
	"tagrouter/internal/textutil"
)

// Classify runs the request through the fast classifier, escalates the
// untrusted levels to the expensive classifier when one is configured, and
// aggregates both answers.
//
// Validation failures are tagged services.ErrValidation and a failed fast
// call services.ErrUpstream. A failed expensive call never fails the
// request; it is recorded in ServiceCalls.LLM and the fast answers are kept.
// When ctx ends while a call is in flight its error is returned and any late
// result is dropped.
func (o *Orchestrator) Classify(ctx context.Context, req Request) (*Result, error) {
	if err := o.Ready(); err != nil {
		return nil, err
	}
	log := logging.WithContext(ctx, o.logger)

	text, levels, overrides, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	result := &Result{ProcessedText: text}
	result.RequestID, _ = services.RequestIDFromContext(ctx)

	fast, err := o.callFast(ctx, text, levels)
	result.ServiceCalls.Fast = ServiceCallRecord{
		Called:          true,
		DurationSeconds: fast.Duration.Seconds(),
		Success:         err == nil,
		LevelsRequested: hierarchy.Strings(levels),
	}
	if err != nil {
		return nil, err
	}

	thresholds, source := o.currentThresholds(ctx)
	thresholds = thresholds.Merge(overrides)
	top := fast.TopConfidences()
	decision := escalation.Evaluate(ctx, top, thresholds, levels, o.logger)
	if decision.LevelsToEscalate == nil {
		decision.LevelsToEscalate = []hierarchy.Level{}
	}
	result.ConfidenceAnalysis = ConfidenceAnalysis{
		Decision:        decision,
		Thresholds:      thresholds,
		ThresholdSource: source,
		TopConfidences:  top,
	}
	result.ServiceCalls.LLM = ServiceCallRecord{LevelsRequested: []string{}}

	var (
		expensive         *prediction.ExpensiveResult
		expensiveDuration time.Duration
		known             map[hierarchy.Level]string
	)
	if decision.NeedsEscalation && o.expensive != nil {
		known = mergeContext(escalation.BuildContext(fast.TopLabels(), decision.LevelsToEscalate), req.Context, decision.LevelsToEscalate)
		result.ConfidenceAnalysis.Context = known

		var callErr error
		expensive, expensiveDuration, callErr = o.callExpensive(ctx, text, decision.LevelsToEscalate, known)
		result.ServiceCalls.LLM = ServiceCallRecord{
			Called:          true,
			DurationSeconds: expensiveDuration.Seconds(),
			Success:         callErr == nil,
			LevelsRequested: hierarchy.Strings(decision.LevelsToEscalate),
		}
		if callErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			result.ServiceCalls.LLM.Error = callErr.Error()
			logging.WarnWithContext(log, "expensive classifier failed; keeping fast predictions",
				"expensive_call_failed",
				logging.Strings("levels", hierarchy.Strings(decision.LevelsToEscalate)),
				logging.Duration("duration", expensiveDuration),
				logging.Error(callErr),
				logging.String(logging.FieldErrorHint, "check the expensive classifier service and its LLM provider"),
				logging.String(logging.FieldImpact, "escalated levels answered by the fast classifier"),
			)
		}
	} else if decision.NeedsEscalation {
		log.Debug("escalation disabled; keeping fast predictions",
			logging.Strings("levels", hierarchy.Strings(decision.LevelsToEscalate)),
		)
	}

	result.Response = aggregate.Aggregate(ctx, aggregate.Input{
		Fast:              fast,
		Expensive:         expensive,
		Escalate:          decision.LevelsToEscalate,
		Requested:         levels,
		KnownContext:      req.Context,
		ExpensiveContext:  known,
		ExpensiveDuration: expensiveDuration,
	}, o.logger)

	log.Info("classification complete",
		logging.Strings("levels", hierarchy.Strings(levels)),
		logging.Bool("escalated", decision.NeedsEscalation),
		logging.Bool("expensive_success", result.ServiceCalls.LLM.Success),
		logging.Float64("elapsed_seconds", result.ElapsedSeconds),
	)
	return result, nil
}

func (o *Orchestrator) validate(req Request) (string, []hierarchy.Level, map[hierarchy.Level]float64, error) {
	text := textutil.Normalize(req.Text, o.maxChars)
	if text == "" {
		return "", nil, nil, services.Wrap(services.ErrValidation, component, "validate", "text must not be empty", nil)
	}
	if len(req.Levels) == 0 {
		return "", nil, nil, services.Wrap(services.ErrValidation, component, "validate", "at least one level must be requested", nil)
	}
	levels, err := hierarchy.ParseAll(req.Levels)
	if err != nil {
		return "", nil, nil, services.Wrap(services.ErrValidation, component, "validate", "invalid level", err)
	}
	for level, value := range req.Thresholds {
		if !level.Valid() {
			return "", nil, nil, services.Wrap(services.ErrValidation, component, "validate", fmt.Sprintf("unknown threshold level %q", level), nil)
		}
		if err := escalation.ValidateThreshold(level, value); err != nil {
			return "", nil, nil, services.Wrap(services.ErrValidation, component, "validate", "invalid threshold override", err)
		}
	}
	for level := range req.Context {
		if !level.Valid() {
			return "", nil, nil, services.Wrap(services.ErrValidation, component, "validate", fmt.Sprintf("unknown context level %q", level), nil)
		}
	}
	return text, levels, req.Thresholds, nil
}

func (o *Orchestrator) callFast(ctx context.Context, text string, levels []hierarchy.Level) (prediction.FastResult, error) {
	callCtx, cancel := withTimeout(ctx, o.fastTimeout)
	defer cancel()

	start := time.Now()
	fast, err := o.fast.Predict(callCtx, text, levels)
	if fast.Duration <= 0 {
		fast.Duration = time.Since(start)
	}
	if err == nil {
		return fast, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fast, ctxErr
	}
	if errors.Is(err, services.ErrUpstream) {
		return fast, err
	}
	message := "fast classifier failed"
	if errors.Is(err, context.DeadlineExceeded) {
		message = fmt.Sprintf("fast classifier timed out after %s", o.fastTimeout)
	}
	return fast, services.Wrap(services.ErrUpstream, component, "fast_predict", message, err)
}

type expensiveOutcome struct {
	result *prediction.ExpensiveResult
	err    error
}

// callExpensive runs the expensive call in its own goroutine so a timeout or
// caller cancellation returns at once. The buffered channel lets a late
// result be dropped without leaking the goroutine.
func (o *Orchestrator) callExpensive(ctx context.Context, text string, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, time.Duration, error) {
	callCtx, cancel := withTimeout(ctx, o.expensiveTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan expensiveOutcome, 1)
	go func() {
		result, err := o.expensive.Predict(callCtx, text, levels, known)
		done <- expensiveOutcome{result: result, err: err}
	}()

	var outcome expensiveOutcome
	select {
	case outcome = <-done:
	case <-callCtx.Done():
		outcome.err = callCtx.Err()
	}
	elapsed := time.Since(start)

	switch {
	case ctx.Err() != nil:
		return nil, elapsed, ctx.Err()
	case outcome.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return nil, elapsed, services.Wrap(services.ErrDownstream, component, "expensive_predict",
			fmt.Sprintf("expensive classifier timed out after %s", o.expensiveTimeout),
			fmt.Errorf("%w: %w", services.ErrTimeout, outcome.err))
	case outcome.err != nil:
		return nil, elapsed, outcome.err
	case outcome.result == nil:
		return nil, elapsed, services.Wrap(services.ErrDownstream, component, "expensive_predict", "expensive classifier returned no result", nil)
	default:
		return outcome.result, elapsed, nil
	}
}

// mergeContext fills levels the fast classifier did not settle with labels
// the caller supplied. Escalated levels never enter the context.
func mergeContext(fromFast, fromCaller map[hierarchy.Level]string, escalate []hierarchy.Level) map[hierarchy.Level]string {
	out := make(map[hierarchy.Level]string, len(hierarchy.Order))
	for level, label := range fromFast {
		out[level] = label
	}
	for level, label := range fromCaller {
		if label == "" || hierarchy.Contains(escalate, level) {
			continue
		}
		if _, ok := out[level]; !ok {
			out[level] = label
		}
	}
	return out
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
