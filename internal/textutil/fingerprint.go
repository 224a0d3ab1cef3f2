package textutil

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// tokenSplitPattern matches runs of characters that never belong to a token.
var tokenSplitPattern = regexp.MustCompile(`[^a-z0-9&]+`)

// stopwords carry no signal for tag classification.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {},
	"are": {}, "was": {}, "were": {}, "has": {}, "have": {}, "had": {}, "its": {},
	"our": {}, "their": {}, "will": {}, "which": {}, "into": {}, "than": {}, "also": {},
	"been": {}, "but": {}, "not": {}, "per": {}, "any": {}, "all": {}, "such": {},
	"of": {}, "to": {}, "in": {}, "on": {}, "by": {}, "as": {}, "at": {}, "or": {},
	"an": {}, "is": {}, "be": {}, "it": {}, "we": {},
}

// Fingerprint represents a term-frequency vector for text similarity comparison.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint creates a fingerprint from the provided text.
// Returns nil if the text produces no valid tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newWeighted(counts)
}

func newWeighted(weights map[string]float64) *Fingerprint {
	var norm float64
	for _, w := range weights {
		norm += w * w
	}
	if norm == 0 {
		return nil
	}
	return &Fingerprint{tokens: weights, norm: math.Sqrt(norm)}
}

// Tokenize splits text into lowercase tokens. Tokens shorter than two
// characters, bare numbers, and stopwords are dropped; short finance terms
// such as "q3" or "m&a" survive.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	raw := tokenSplitPattern.Split(lowered, -1)
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.Trim(token, "&")
		if len(token) < 2 || isNumeric(token) {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

func isNumeric(token string) bool {
	for _, r := range token {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// TokenCount returns the number of unique tokens in the fingerprint.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.tokens)
}

// WithIDF returns a new Fingerprint with TF-IDF weights applied.
// Terms absent from the IDF map retain their original weight.
func (f *Fingerprint) WithIDF(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	weighted := make(map[string]float64, len(f.tokens))
	for token, count := range f.tokens {
		w := count
		if idfVal, ok := idf[token]; ok {
			w *= idfVal
		}
		if w == 0 {
			continue
		}
		weighted[token] = w
	}
	return newWeighted(weighted)
}

// TokenWeight is one term's contribution to a similarity score.
type TokenWeight struct {
	Token  string  `json:"token"`
	Weight float64 `json:"weight"`
}

// SharedTokens returns the terms present in both fingerprints ordered by
// their contribution to the cosine similarity, strongest first. At most
// limit terms are returned; limit <= 0 returns all of them.
func SharedTokens(a, b *Fingerprint, limit int) []TokenWeight {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return nil
	}
	var shared []TokenWeight
	for token, weight := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			shared = append(shared, TokenWeight{Token: token, Weight: weight * other / (a.norm * b.norm)})
		}
	}
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].Weight == shared[j].Weight {
			return shared[i].Token < shared[j].Token
		}
		return shared[i].Weight > shared[j].Weight
	})
	if limit > 0 && len(shared) > limit {
		shared = shared[:limit]
	}
	return shared
}

// Corpus collects document frequency statistics for IDF computation.
type Corpus struct {
	docCount int
	docFreq  map[string]int
}

// NewCorpus creates an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{docFreq: make(map[string]int)}
}

// Add registers a fingerprint's unique terms in the corpus.
func (c *Corpus) Add(fp *Fingerprint) {
	if c == nil || fp == nil {
		return
	}
	c.docCount++
	for token := range fp.tokens {
		c.docFreq[token]++
	}
}

// IDF computes smoothed inverse document frequency weights:
// 1 + log((N+1)/(1+df)) for each term, so terms shared by every document
// keep a small positive weight.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docCount == 0 {
		return nil
	}
	idf := make(map[string]float64, len(c.docFreq))
	n := float64(c.docCount)
	for term, df := range c.docFreq {
		idf[term] = 1 + math.Log((n+1)/(1+float64(df)))
	}
	return idf
}
