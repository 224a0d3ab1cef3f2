// Package services defines shared utilities consumed by the classification
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so callers can tell a
//     failed fast path (fatal) from a failed expensive path (recovered) and
//     map either to an HTTP status.
//
// Client packages for the fast and expensive classifiers live in
// subpackages and tag their failures with these markers.
package services
