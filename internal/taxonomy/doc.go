// Package taxonomy holds the fixed tag hierarchy that classifiers choose
// from.
//
// A taxonomy is a three-level tree (primary, secondary, tertiary) loaded
// from YAML. Label lookups are case-folded so "earnings" and "Earnings"
// resolve to the same node, and Closest repairs labels that are not part of
// the tree by picking the most similar sibling.
package taxonomy
