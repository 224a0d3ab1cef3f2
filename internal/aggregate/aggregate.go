// Package aggregate merges fast and expensive classifier output into the
// final per-level response.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/prediction"
)

// Input carries everything the aggregator needs for one request.
type Input struct {
	Fast prediction.FastResult
	// Expensive is nil when the expensive classifier was not called or failed.
	Expensive *prediction.ExpensiveResult
	Escalate  []hierarchy.Level
	Requested []hierarchy.Level
	// KnownContext holds caller supplied labels for levels the fast classifier
	// did not predict. They fill parent context when no fast top label exists.
	KnownContext map[hierarchy.Level]string
	// ExpensiveContext is the parent context sent with the expensive call.
	// It annotates expensive answers whose service left the parents empty.
	ExpensiveContext map[hierarchy.Level]string
	// ExpensiveDuration is the wall-clock time spent on the expensive call,
	// failed attempts included. Zero falls back to Expensive.Duration.
	ExpensiveDuration time.Duration
}

// Aggregate builds the response for the requested levels. An escalated level
// with an expensive answer yields one expensive result carrying the
// superseded fast candidates; every other level yields one fast result per
// candidate. Levels without output from either source are omitted.
func Aggregate(ctx context.Context, in Input, logger *slog.Logger) prediction.Response {
	log := logging.WithContext(ctx, logging.NewComponentLogger(logger, "aggregator"))

	parents := parentLabels(in.Fast, in.KnownContext)
	out := make(map[hierarchy.Level][]prediction.LevelResult, len(in.Requested))

	for _, level := range hierarchy.Sort(in.Requested) {
		candidates := in.Fast.Predictions[level]

		if hierarchy.Contains(in.Escalate, level) {
			if result, ok := expensiveResult(in.Expensive, level, candidates, in.ExpensiveContext); ok {
				out[level] = []prediction.LevelResult{result}
				continue
			}
			logging.WarnWithContext(log, "expensive prediction missing for escalated level",
				"expensive_prediction_missing",
				logging.String(logging.FieldLevel, string(level)),
				logging.Bool("expensive_called", in.Expensive != nil),
				logging.String(logging.FieldErrorHint, "check llm_service in service_calls for the failure"),
				logging.String(logging.FieldImpact, "fast classifier output returned for this level"),
			)
		}

		if results := fastResults(level, candidates, parents); len(results) > 0 {
			out[level] = results
		}
	}

	elapsed := in.Fast.Duration + in.ExpensiveDuration
	if in.ExpensiveDuration == 0 && in.Expensive != nil {
		elapsed += in.Expensive.Duration
	}

	return prediction.Response{Prediction: out, ElapsedSeconds: elapsed.Seconds()}
}

func expensiveResult(expensive *prediction.ExpensiveResult, level hierarchy.Level, candidates []prediction.LabelPrediction, sent map[hierarchy.Level]string) (prediction.LevelResult, bool) {
	if expensive == nil {
		return prediction.LevelResult{}, false
	}
	pred, ok := expensive.Predictions[level]
	if !ok || pred.Label == "" {
		return prediction.LevelResult{}, false
	}
	return prediction.LevelResult{
		Pred:             pred.Label,
		Confidence:       pred.Confidence,
		Source:           prediction.SourceExpensive,
		Reasoning:        pred.Reasoning,
		PrimaryContext:   expensiveParent(expensive, level, hierarchy.Primary, pred.Primary, sent),
		SecondaryContext: expensiveParent(expensive, level, hierarchy.Secondary, pred.Secondary, sent),
		AIPrediction:     append([]prediction.LabelPrediction(nil), candidates...),
	}, true
}

// expensiveParent resolves the ancestor label for an expensive answer: the
// service's own annotation, then the context it was sent, then its answer for
// the ancestor level when that level was escalated too.
func expensiveParent(expensive *prediction.ExpensiveResult, level, ancestor hierarchy.Level, annotated string, sent map[hierarchy.Level]string) string {
	if !hierarchy.Contains(hierarchy.Ancestors(level), ancestor) {
		return ""
	}
	if annotated != "" {
		return annotated
	}
	if label := sent[ancestor]; label != "" {
		return label
	}
	return expensive.Predictions[ancestor].Label
}

func fastResults(level hierarchy.Level, candidates []prediction.LabelPrediction, parents map[hierarchy.Level]string) []prediction.LevelResult {
	if len(candidates) == 0 {
		return nil
	}
	var primary, secondary string
	for _, ancestor := range hierarchy.Ancestors(level) {
		switch ancestor {
		case hierarchy.Primary:
			primary = parents[hierarchy.Primary]
		case hierarchy.Secondary:
			secondary = parents[hierarchy.Secondary]
		}
	}
	results := make([]prediction.LevelResult, 0, len(candidates))
	for _, candidate := range candidates {
		results = append(results, prediction.LevelResult{
			Pred:             candidate.Label,
			Confidence:       candidate.Confidence,
			Source:           prediction.SourceFast,
			Evidence:         candidate.Evidence,
			PrimaryContext:   primary,
			SecondaryContext: secondary,
		})
	}
	return results
}

// parentLabels prefers the fast classifier's top label and falls back to the
// caller supplied context.
func parentLabels(fast prediction.FastResult, known map[hierarchy.Level]string) map[hierarchy.Level]string {
	out := make(map[hierarchy.Level]string, len(hierarchy.Order))
	for level, label := range known {
		if label != "" {
			out[level] = label
		}
	}
	for level, label := range fast.TopLabels() {
		out[level] = label
	}
	return out
}
