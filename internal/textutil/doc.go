// Package textutil provides text processing utilities for fingerprinting,
// similarity, and request text normalization.
//
// The primary use cases are:
//   - Creating token-based fingerprints from document text and taxonomy labels
//   - Computing cosine similarity between fingerprints and explaining it
//     through the shared tokens that drive the score
//   - Normalizing and truncating request text before classification
//
// Tokenization lowercases text, splits on characters other than letters,
// digits and '&', and drops stopwords, bare numbers, and single characters.
package textutil
