// Package daemon runs the long-lived tagrouter server.
//
// It owns the single-instance lock, the HTTP API (classification, threshold
// management, health and the embedded collaborator endpoints), and the
// threshold store's lifetime. Classification itself lives in the
// orchestrator; the daemon only decodes requests, maps errors to status
// codes and encodes responses.
package daemon
