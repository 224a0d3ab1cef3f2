// Package beam implements the embedded fast classifier: a bounded
// best-first walk down the taxonomy that keeps the most probable paths at
// each level.
package beam

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tagrouter/internal/hierarchy"
	"tagrouter/internal/logging"
	"tagrouter/internal/prediction"
	"tagrouter/internal/services"
	"tagrouter/internal/taxonomy"
	"tagrouter/internal/textutil"
)

const component = "beam"

// DefaultWidth is used for levels without a configured beam width.
const DefaultWidth = 3

// Classifier predicts labels for every requested level in one pass.
type Classifier struct {
	taxonomy *taxonomy.Taxonomy
	scorer   Scorer
	widths   []int
	logger   *slog.Logger
}

// New builds a classifier. widths[i] bounds the beam at hierarchy level i;
// missing or non-positive entries fall back to DefaultWidth. A nil scorer
// selects a KeywordScorer over tax.
func New(tax *taxonomy.Taxonomy, scorer Scorer, widths []int, logger *slog.Logger) *Classifier {
	if tax == nil {
		tax = taxonomy.Default()
	}
	if scorer == nil {
		scorer = NewKeywordScorer(tax, 0)
	}
	resolved := make([]int, len(hierarchy.Order))
	for i := range resolved {
		resolved[i] = DefaultWidth
		if i < len(widths) && widths[i] > 0 {
			resolved[i] = widths[i]
		}
	}
	return &Classifier{
		taxonomy: tax,
		scorer:   scorer,
		widths:   resolved,
		logger:   logging.NewComponentLogger(logger, component),
	}
}

type path struct {
	labels      []string
	probability float64
	evidence    []textutil.TokenWeight
}

type evidence struct {
	Path   []string               `json:"path"`
	Tokens []textutil.TokenWeight `json:"tokens,omitempty"`
}

// Predict walks the taxonomy down to the deepest requested level. A path's
// probability is the product of its conditional probabilities; each label's
// confidence is the best path probability containing it. Every requested
// level receives a best-first candidate list.
func (c *Classifier) Predict(ctx context.Context, text string, levels []hierarchy.Level) (prediction.FastResult, error) {
	start := time.Now()
	levels = hierarchy.Sort(levels)
	if len(levels) == 0 {
		return prediction.FastResult{}, services.Wrap(services.ErrValidation, component, "predict", "no levels requested", nil)
	}
	if strings.TrimSpace(text) == "" {
		return prediction.FastResult{}, services.Wrap(services.ErrValidation, component, "predict", "text is empty", nil)
	}

	doc := c.scorer.Fingerprint(text)
	deepest := hierarchy.Index(levels[len(levels)-1])
	beam := []path{{probability: 1}}
	out := make(map[hierarchy.Level][]prediction.LabelPrediction, len(levels))
	expanded := 0

	for depth := 0; depth <= deepest; depth++ {
		if err := ctx.Err(); err != nil {
			return prediction.FastResult{}, err
		}
		var next []path
		for _, parent := range beam {
			children := c.taxonomy.Children(parent.labels...)
			scores := c.scorer.Conditional(doc, children)
			expanded++
			for i, child := range children {
				labels := make([]string, len(parent.labels)+1)
				copy(labels, parent.labels)
				labels[len(parent.labels)] = child.Label
				next = append(next, path{
					labels:      labels,
					probability: parent.probability * scores[i].Probability,
					evidence:    scores[i].Evidence,
				})
			}
		}
		if len(next) == 0 {
			break
		}
		sort.SliceStable(next, func(i, j int) bool {
			return next[i].probability > next[j].probability
		})
		if width := c.widths[depth]; len(next) > width {
			next = next[:width]
		}
		beam = next

		level := hierarchy.Order[depth]
		if hierarchy.Contains(levels, level) {
			out[level] = candidates(beam)
		}
	}

	result := prediction.FastResult{
		Predictions: out,
		Duration:    time.Since(start),
		Metadata: map[string]any{
			"beam_widths": c.Widths(),
			"expanded":    expanded,
		},
	}
	c.logger.Debug("beam search complete",
		logging.Int("expanded", expanded),
		logging.Duration("duration", result.Duration),
	)
	return result, nil
}

// candidates collapses the beam into one entry per label, keeping the best
// path for labels reachable through several parents.
func candidates(beam []path) []prediction.LabelPrediction {
	seen := make(map[string]struct{}, len(beam))
	out := make([]prediction.LabelPrediction, 0, len(beam))
	for _, p := range beam {
		label := p.labels[len(p.labels)-1]
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		raw, err := json.Marshal(evidence{Path: p.labels, Tokens: p.evidence})
		if err != nil {
			raw = json.RawMessage(fmt.Sprintf("{%q:%q}", "error", err.Error()))
		}
		out = append(out, prediction.LabelPrediction{
			Label:      label,
			Confidence: p.probability,
			Evidence:   raw,
		})
	}
	return out
}

// Widths returns the resolved per-level beam widths.
func (c *Classifier) Widths() []int {
	return append([]int(nil), c.widths...)
}
