// Package api defines the JSON wire types shared by the HTTP server, the
// remote classifier adapters, and the CLI.
//
// Field names are snake_case to match the classification service contract.
// Levels travel as their lowercase names ("primary", "secondary",
// "tertiary") and timestamps as RFC3339 with milliseconds.
//
// Converters translate between wire types and the internal prediction
// shapes. Decoding from the wire normalizes what remote services send:
// unknown levels and empty labels are dropped, confidences are clamped to
// [0, 1], and candidate lists are re-sorted best first.
package api
