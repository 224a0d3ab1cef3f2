// Package llmclassifier is the embedded expensive classifier: it prompts an
// LLM with the taxonomy subtree below whatever context is already known and
// repairs any label the model invents.
package llmclassifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/prediction"
	"tagrouter/internal/services"
	"tagrouter/internal/services/llm"
	"tagrouter/internal/taxonomy"
)

const component = "llm-classifier"

// Classifier answers expensive predictions with an LLM.
type Classifier struct {
	completer llm.Completer
	taxonomy  *taxonomy.Taxonomy
	logger    *slog.Logger
}

// New builds a classifier. A nil taxonomy selects the embedded default.
func New(completer llm.Completer, tax *taxonomy.Taxonomy, logger *slog.Logger) *Classifier {
	if tax == nil {
		tax = taxonomy.Default()
	}
	return &Classifier{
		completer: completer,
		taxonomy:  tax,
		logger:    logging.NewComponentLogger(logger, component),
	}
}

type answer struct {
	Pred       string  `json:"pred"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (a answer) label() string {
	if strings.TrimSpace(a.Pred) != "" {
		return strings.TrimSpace(a.Pred)
	}
	return strings.TrimSpace(a.Label)
}

// Predict classifies text for levels. known carries labels of levels that
// are not being asked for; a known primary (and secondary) narrows the
// prompt to the subtree below it. Every returned label exists in the
// taxonomy under its returned parents.
func (c *Classifier) Predict(ctx context.Context, text string, levels []hierarchy.Level, known map[hierarchy.Level]string) (*prediction.ExpensiveResult, error) {
	start := time.Now()
	log := logging.WithContext(ctx, c.logger)

	if c.completer == nil {
		return nil, services.Wrap(services.ErrNotReady, component, "predict", "llm completer not configured", nil)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, component, "predict", "text is empty", nil)
	}
	levels = hierarchy.Sort(levels)
	if len(levels) == 0 {
		return nil, services.Wrap(services.ErrValidation, component, "predict", "no levels requested", nil)
	}

	path := c.knownPath(log, known, hierarchy.Index(levels[0]))
	ask := hierarchy.Order[len(path) : hierarchy.Index(levels[len(levels)-1])+1]
	p := buildPrompt(c.taxonomy, text, path, ask)

	log.Debug("llm classification request",
		logging.String("template", p.template),
		logging.Strings("ask", hierarchy.Strings(ask)),
		logging.Int("known_levels", len(path)),
	)

	content, err := c.completer.CompleteJSON(ctx, systemPrompt, p.text)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, services.Wrap(services.ErrDownstream, component, "complete", "llm request failed", err)
	}
	var answers map[string]answer
	if err := llm.DecodeLLMJSON(content, &answers); err != nil {
		return nil, services.Wrap(services.ErrDownstream, component, "decode", "llm answer is not valid JSON", err)
	}

	out := make(map[hierarchy.Level]prediction.ExpensivePrediction, len(levels))
	repaired := 0
	for _, level := range ask {
		ans, ok := answers[string(level)]
		if !ok || ans.label() == "" {
			log.Debug("llm answer missing level", logging.String(logging.FieldLevel, string(level)))
			path = append(path, "")
			continue
		}
		label, fixed := c.repair(log, level, ans.label(), path)
		if fixed {
			repaired++
		}
		if label == "" {
			path = append(path, "")
			continue
		}
		if hierarchy.Contains(levels, level) {
			out[level] = prediction.ExpensivePrediction{
				Label:      label,
				Confidence: clamp(ans.Confidence),
				Reasoning:  strings.TrimSpace(ans.Reasoning),
				Primary:    parentAt(path, 0),
				Secondary:  parentAt(path, 1),
			}
		}
		path = append(path, label)
	}

	return &prediction.ExpensiveResult{
		Predictions: out,
		Duration:    time.Since(start),
		Metadata: map[string]any{
			"template": p.template,
			"repaired": repaired,
		},
	}, nil
}

// knownPath returns the canonical labels of the leading levels supplied in
// known, stopping at the first gap or at limit.
func (c *Classifier) knownPath(log *slog.Logger, known map[hierarchy.Level]string, limit int) []string {
	var path []string
	for _, level := range hierarchy.Order[:limit] {
		label := strings.TrimSpace(known[level])
		if label == "" {
			break
		}
		fixed, _ := c.repair(log, level, label, path)
		if fixed == "" {
			break
		}
		path = append(path, fixed)
	}
	return path
}

// repair maps label onto the taxonomy under parents. The second return
// reports whether the label had to be substituted.
func (c *Classifier) repair(log *slog.Logger, level hierarchy.Level, label string, parents []string) (string, bool) {
	if canonical, ok := c.taxonomy.Canonical(level, label, parents...); ok {
		return canonical, false
	}
	substitute := c.taxonomy.Closest(level, label, parents...)
	violation := services.Wrap(services.ErrTaxonomy, component, "validate",
		fmt.Sprintf("%s label %q not in taxonomy", level, label), nil)
	logging.WarnWithContext(log, "llm returned label outside taxonomy",
		"taxonomy_violation",
		logging.String(logging.FieldLevel, string(level)),
		logging.String("label", label),
		logging.String("substitute", substitute),
		logging.Error(violation),
		logging.String(logging.FieldErrorHint, "review the prompt or the taxonomy labels"),
		logging.String(logging.FieldImpact, "closest valid label returned instead"),
	)
	return substitute, true
}

// HealthCheck verifies the completer when it supports it.
func (c *Classifier) HealthCheck(ctx context.Context) error {
	if c.completer == nil {
		return services.Wrap(services.ErrNotReady, component, "health", "llm completer not configured", nil)
	}
	if checker, ok := c.completer.(llm.HealthChecker); ok {
		return checker.HealthCheck(ctx)
	}
	return nil
}

// Taxonomy returns the taxonomy the classifier validates against.
func (c *Classifier) Taxonomy() *taxonomy.Taxonomy {
	return c.taxonomy
}

func parentAt(path []string, index int) string {
	if index < len(path) {
		return path[index]
	}
	return ""
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
