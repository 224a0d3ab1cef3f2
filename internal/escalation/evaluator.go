// Package escalation decides which hierarchy levels the fast classifier can be
// trusted on and which must be re-predicted by the expensive classifier.
package escalation

import (
	"context"
	"log/slog"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
)

// Decision describes the escalation scope for one request. LevelsToEscalate is
// always a contiguous suffix of the requested levels starting at TriggerLevel.
type Decision struct {
	NeedsEscalation  bool              `json:"needs_escalation"`
	TriggerLevel     *hierarchy.Level  `json:"trigger_level"`
	LevelsToEscalate []hierarchy.Level `json:"levels_to_escalate"`
}

// Escalates reports whether level is part of the escalation scope.
func (d Decision) Escalates(level hierarchy.Level) bool {
	return hierarchy.Contains(d.LevelsToEscalate, level)
}

// Evaluate walks the requested levels in hierarchy order and escalates the
// first level whose top confidence is strictly below its threshold, together
// with every requested level below it. A requested level without a prediction is
// logged and skipped.
func Evaluate(ctx context.Context, top map[hierarchy.Level]float64, thresholds Thresholds, requested []hierarchy.Level, logger *slog.Logger) Decision {
	log := logging.WithContext(ctx, logging.NewComponentLogger(logger, "evaluator"))
	levels := hierarchy.Sort(requested)

	for _, level := range levels {
		confidence, ok := top[level]
		if !ok {
			logging.WarnWithContext(log, "fast prediction missing for requested level",
				"fast_prediction_missing",
				logging.String(logging.FieldLevel, string(level)),
				logging.String(logging.FieldErrorHint, "verify the fast classifier returns every requested level"),
				logging.String(logging.FieldImpact, "level skipped during confidence evaluation"),
			)
			continue
		}
		threshold := thresholds.For(level)
		if confidence >= threshold {
			continue
		}

		trigger := level
		scope := []hierarchy.Level{trigger}
		for _, below := range hierarchy.Descendants(trigger) {
			if hierarchy.Contains(levels, below) {
				scope = append(scope, below)
			}
		}
		attrs := logging.DecisionAttrs("escalation", "escalate", "confidence below threshold")
		attrs = append(attrs,
			logging.String(logging.FieldLevel, string(level)),
			logging.Float64("confidence", confidence),
			logging.Float64("threshold", threshold),
			logging.Strings("levels_to_escalate", hierarchy.Strings(scope)),
		)
		log.Info("escalation required", logging.Args(attrs...)...)
		return Decision{NeedsEscalation: true, TriggerLevel: &trigger, LevelsToEscalate: scope}
	}

	log.Debug("fast predictions trusted", logging.Args(logging.DecisionAttrs("escalation", "keep", "all levels meet threshold")...)...)
	return Decision{}
}

// BuildContext returns the trusted top labels for every level outside the
// escalation scope. Levels without a label are omitted.
func BuildContext(top map[hierarchy.Level]string, escalate []hierarchy.Level) map[hierarchy.Level]string {
	out := make(map[hierarchy.Level]string, len(top))
	for _, level := range hierarchy.Order {
		if hierarchy.Contains(escalate, level) {
			continue
		}
		if label, ok := top[level]; ok && label != "" {
			out[level] = label
		}
	}
	return out
}
