package textutil

// CosineSimilarity computes the cosine similarity between two fingerprints.
// Returns 0 if either fingerprint is nil or has zero norm.
func CosineSimilarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, weight := range a.tokens {
		if other, ok := b.tokens[token]; ok {
			dot += weight * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}

// BestMatch returns the index of the candidate most similar to target and
// its score. Ties keep the earliest candidate. Returns -1 when no candidate
// shares a term with target.
func BestMatch(target *Fingerprint, candidates []*Fingerprint) (int, float64) {
	best, bestScore := -1, 0.0
	for i, candidate := range candidates {
		score := CosineSimilarity(target, candidate)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best, bestScore
}
