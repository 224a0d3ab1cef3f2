// Package prediction holds the per-request result shapes shared by the
// classifier adapters, the escalation core, and the response aggregator.
package prediction

import (
	"encoding/json"
	"time"

	"tagrouter/internal/hierarchy"
)

// LabelPrediction is one candidate label at one level.
type LabelPrediction struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Evidence   json.RawMessage `json:"evidence,omitempty"`
}

// FastResult is the normalized output of the fast classifier. Each level
// holds a ranked, best-first candidate list.
type FastResult struct {
	Predictions map[hierarchy.Level][]LabelPrediction
	Duration    time.Duration
	Metadata    map[string]any
}

// Top returns the best candidate for the level.
func (r FastResult) Top(level hierarchy.Level) (LabelPrediction, bool) {
	candidates := r.Predictions[level]
	if len(candidates) == 0 {
		return LabelPrediction{}, false
	}
	return candidates[0], true
}

// TopConfidences maps every level with at least one candidate to the
// confidence of its best candidate.
func (r FastResult) TopConfidences() map[hierarchy.Level]float64 {
	out := make(map[hierarchy.Level]float64, len(r.Predictions))
	for level := range r.Predictions {
		if top, ok := r.Top(level); ok {
			out[level] = top.Confidence
		}
	}
	return out
}

// TopLabels maps every level with a non-empty best label to that label.
func (r FastResult) TopLabels() map[hierarchy.Level]string {
	out := make(map[hierarchy.Level]string, len(r.Predictions))
	for level := range r.Predictions {
		if top, ok := r.Top(level); ok && top.Label != "" {
			out[level] = top.Label
		}
	}
	return out
}

// ExpensivePrediction is the single answer the LLM-backed classifier gives for
// one level, annotated with the parent labels it was conditioned on.
type ExpensivePrediction struct {
	Label      string  `json:"pred"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Primary    string  `json:"primary,omitempty"`
	Secondary  string  `json:"secondary,omitempty"`
}

// ExpensiveResult is the normalized output of the expensive classifier.
type ExpensiveResult struct {
	Predictions map[hierarchy.Level]ExpensivePrediction
	Duration    time.Duration
	Metadata    map[string]any
}

// Source tags which classifier produced a level result.
type Source string

const (
	SourceFast      Source = "fast"
	SourceExpensive Source = "expensive"
)

// LevelResult is one entry of the final per-level answer. Reasoning is set
// only for expensive results; Evidence only for fast results. AIPrediction
// carries the superseded fast candidates of an escalated level.
type LevelResult struct {
	Pred             string            `json:"pred"`
	Confidence       float64           `json:"confidence"`
	Source           Source            `json:"source"`
	Reasoning        string            `json:"reasoning,omitempty"`
	Evidence         json.RawMessage   `json:"evidence,omitempty"`
	PrimaryContext   string            `json:"primary_context,omitempty"`
	SecondaryContext string            `json:"secondary_context,omitempty"`
	AIPrediction     []LabelPrediction `json:"ai_prediction,omitempty"`
}

// Response is the aggregated answer for a request.
type Response struct {
	Prediction     map[hierarchy.Level][]LevelResult `json:"prediction"`
	ElapsedSeconds float64                           `json:"elapsed_seconds"`
}

// Levels returns the levels present in the response in hierarchy order.
func (r Response) Levels() []hierarchy.Level {
	out := make([]hierarchy.Level, 0, len(r.Prediction))
	for _, level := range hierarchy.Order {
		if _, ok := r.Prediction[level]; ok {
			out = append(out, level)
		}
	}
	return out
}
