package api

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"tagrouter/internal/escalation"
	"tagrouter/internal/hierarchy"
	"tagrouter/internal/prediction"
	"tagrouter/internal/thresholds"
)

// FromFastResult converts a fast result to its wire representation.
func FromFastResult(result prediction.FastResult) FastPredictResponse {
	out := make(map[string][]prediction.LabelPrediction, len(result.Predictions))
	for level, candidates := range result.Predictions {
		out[string(level)] = candidates
	}
	return FastPredictResponse{
		Prediction: out,
		Duration:   result.Duration.Seconds(),
		Metadata:   result.Metadata,
	}
}

// FastResult normalizes a wire response into a fast result.
func (r FastPredictResponse) FastResult() prediction.FastResult {
	out := make(map[hierarchy.Level][]prediction.LabelPrediction, len(r.Prediction))
	for key, candidates := range r.Prediction {
		level, err := hierarchy.Parse(key)
		if err != nil {
			continue
		}
		cleaned := make([]prediction.LabelPrediction, 0, len(candidates))
		for _, candidate := range candidates {
			candidate.Label = strings.TrimSpace(candidate.Label)
			if candidate.Label == "" {
				continue
			}
			candidate.Confidence = clamp(candidate.Confidence)
			cleaned = append(cleaned, candidate)
		}
		if len(cleaned) == 0 {
			continue
		}
		sort.SliceStable(cleaned, func(i, j int) bool {
			return cleaned[i].Confidence > cleaned[j].Confidence
		})
		out[level] = cleaned
	}
	return prediction.FastResult{
		Predictions: out,
		Duration:    seconds(r.Duration),
		Metadata:    r.Metadata,
	}
}

// FromExpensiveResult converts an expensive result to its wire
// representation.
func FromExpensiveResult(result prediction.ExpensiveResult) ExpensivePredictResponse {
	out := make(map[string]prediction.ExpensivePrediction, len(result.Predictions))
	for level, pred := range result.Predictions {
		out[string(level)] = pred
	}
	return ExpensivePredictResponse{
		Prediction: out,
		Duration:   result.Duration.Seconds(),
		Metadata:   result.Metadata,
	}
}

// ExpensiveResult normalizes a wire response into an expensive result.
func (r ExpensivePredictResponse) ExpensiveResult() prediction.ExpensiveResult {
	out := make(map[hierarchy.Level]prediction.ExpensivePrediction, len(r.Prediction))
	for key, pred := range r.Prediction {
		level, err := hierarchy.Parse(key)
		if err != nil {
			continue
		}
		pred.Label = strings.TrimSpace(pred.Label)
		if pred.Label == "" {
			continue
		}
		pred.Confidence = clamp(pred.Confidence)
		pred.Reasoning = strings.TrimSpace(pred.Reasoning)
		out[level] = pred
	}
	return prediction.ExpensiveResult{
		Predictions: out,
		Duration:    seconds(r.Duration),
		Metadata:    r.Metadata,
	}
}

// ContextToWire converts a level-keyed context for transport. Empty labels
// are dropped.
func ContextToWire(context map[hierarchy.Level]string) map[string]string {
	if len(context) == 0 {
		return nil
	}
	out := make(map[string]string, len(context))
	for level, label := range context {
		if label = strings.TrimSpace(label); label != "" {
			out[string(level)] = label
		}
	}
	return out
}

// ContextFromWire parses a transported context. Unknown level names are
// rejected.
func ContextFromWire(context map[string]string) (map[hierarchy.Level]string, error) {
	if len(context) == 0 {
		return nil, nil
	}
	out := make(map[hierarchy.Level]string, len(context))
	for key, label := range context {
		level, err := hierarchy.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		if label = strings.TrimSpace(label); label != "" {
			out[level] = label
		}
	}
	return out, nil
}

// ThresholdsFromWire parses per-level threshold overrides and checks their
// range.
func ThresholdsFromWire(values map[string]float64) (map[hierarchy.Level]float64, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[hierarchy.Level]float64, len(values))
	for key, value := range values {
		level, err := hierarchy.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("confidence_thresholds: %w", err)
		}
		if err := escalation.ValidateThreshold(level, value); err != nil {
			return nil, fmt.Errorf("confidence_thresholds: %w", err)
		}
		out[level] = value
	}
	return out, nil
}

// ThresholdsToWire keys thresholds by level name.
func ThresholdsToWire(t escalation.Thresholds) map[string]float64 {
	out := make(map[string]float64, len(hierarchy.Order))
	for level, value := range t.Map() {
		out[string(level)] = value
	}
	return out
}

// Values collects the levels set in an update request.
func (r ThresholdsUpdateRequest) Values() map[hierarchy.Level]float64 {
	out := make(map[hierarchy.Level]float64, 3)
	if r.Primary != nil {
		out[hierarchy.Primary] = *r.Primary
	}
	if r.Secondary != nil {
		out[hierarchy.Secondary] = *r.Secondary
	}
	if r.Tertiary != nil {
		out[hierarchy.Tertiary] = *r.Tertiary
	}
	return out
}

// FromThresholdChanges converts audit rows for transport.
func FromThresholdChanges(changes []thresholds.Change) []ThresholdChange {
	out := make([]ThresholdChange, 0, len(changes))
	for _, change := range changes {
		dto := ThresholdChange{
			ID:        change.ID,
			Level:     string(change.Level),
			OldValue:  change.OldValue,
			NewValue:  change.NewValue,
			UpdatedBy: change.UpdatedBy,
			Reason:    change.Reason,
		}
		if !change.ChangedAt.IsZero() {
			dto.ChangedAt = change.ChangedAt.UTC().Format(dateTimeFormat)
		}
		out = append(out, dto)
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func seconds(v float64) time.Duration {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
