package beam

import (
	"math"
	"strings"

	"tagrouter/internal/taxonomy"
	"tagrouter/internal/textutil"
)

// DefaultTemperature sharpens the softmax over cosine scores, which live in
// [0, 1] and would otherwise come out nearly uniform.
const DefaultTemperature = 0.1

const evidenceTokens = 5

// Scored is one child's conditional probability given its parent path.
type Scored struct {
	Probability float64
	Evidence    []textutil.TokenWeight
}

// Scorer produces conditional probabilities for the children of one node.
type Scorer interface {
	// Fingerprint prepares the document once per request.
	Fingerprint(text string) *textutil.Fingerprint
	// Conditional returns one entry per child; probabilities sum to 1.
	Conditional(doc *textutil.Fingerprint, children []taxonomy.Node) []Scored
}

// KeywordScorer softmaxes TF-IDF cosine similarity between the document and
// each node's label plus keywords.
type KeywordScorer struct {
	idf         map[string]float64
	nodes       map[string]*textutil.Fingerprint
	temperature float64
}

// NewKeywordScorer indexes every node of tax. temperature <= 0 selects
// DefaultTemperature.
func NewKeywordScorer(tax *taxonomy.Taxonomy, temperature float64) *KeywordScorer {
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	corpus := textutil.NewCorpus()
	var all []taxonomy.Node
	tax.Walk(func(n taxonomy.Node) {
		corpus.Add(nodeFingerprint(n))
		all = append(all, n)
	})
	idf := corpus.IDF()
	nodes := make(map[string]*textutil.Fingerprint, len(all))
	for _, n := range all {
		nodes[pathKey(n.Path)] = nodeFingerprint(n).WithIDF(idf)
	}
	return &KeywordScorer{idf: idf, nodes: nodes, temperature: temperature}
}

func nodeFingerprint(n taxonomy.Node) *textutil.Fingerprint {
	return textutil.NewFingerprint(n.Label + " " + strings.Join(n.Keywords, " "))
}

func pathKey(path []string) string {
	return strings.Join(path, "\x1f")
}

// Fingerprint returns the IDF-weighted document vector.
func (s *KeywordScorer) Fingerprint(text string) *textutil.Fingerprint {
	return textutil.NewFingerprint(text).WithIDF(s.idf)
}

// Conditional scores children against doc. Children without any overlap
// share the remaining mass evenly with the others through the softmax.
func (s *KeywordScorer) Conditional(doc *textutil.Fingerprint, children []taxonomy.Node) []Scored {
	out := make([]Scored, len(children))
	if len(children) == 0 {
		return out
	}
	logits := make([]float64, len(children))
	maxLogit := math.Inf(-1)
	for i, child := range children {
		fp := s.nodes[pathKey(child.Path)]
		logits[i] = textutil.CosineSimilarity(doc, fp) / s.temperature
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
		out[i].Evidence = textutil.SharedTokens(doc, fp, evidenceTokens)
	}
	var sum float64
	for i := range logits {
		logits[i] = math.Exp(logits[i] - maxLogit)
		sum += logits[i]
	}
	for i := range out {
		out[i].Probability = logits[i] / sum
	}
	return out
}
