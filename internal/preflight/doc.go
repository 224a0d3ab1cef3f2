// Package preflight provides readiness checks for the filesystem paths and
// collaborators tagrouter depends on.
//
// The server runs the local checks at startup and logs failures without
// refusing to start. `tagrouter config validate --check` runs every check,
// including the remote classifiers and one tiny LLM request.
//
// Each collaborator check is gated by its configured mode; disabled or
// embedded collaborators are skipped or checked in process.
package preflight
