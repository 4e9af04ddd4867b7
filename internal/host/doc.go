// Package host runs the persistent compute unit that owns chunk engines.
//
// A Host keeps one chunk.Engine per in-flight object and exposes the caller
// API (sequential append and finalize, parallel chunk upload, completeness
// queries, consolidation, status) plus the restart boundary hooks.
//
// Single-writer loop:
// Every call is queued and executed by Run in one goroutine, so engines never
// see concurrent access and need no locks. Each processed call is stamped with
// a seq from a logical Clock.
//
// Restart boundary:
// PreUpgrade exports every engine and the authorizer state into a Registry in
// one atomic batch. PostUpgrade restores them all-or-nothing: absent keys mean
// empty state, and any corrupt entry fails the restore with the host left as
// it was. Reinitialize is the explicit way to discard unreadable state.
package host
