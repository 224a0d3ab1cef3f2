// Package main hosts the tagrouter CLI entrypoint and command graph.
//
// The Cobra command tree either talks to a running server over HTTP
// (classify, status) or works on local state directly (thresholds,
// taxonomy, config scaffolding). `tagrouter serve` runs the server in the
// foreground.
package main
