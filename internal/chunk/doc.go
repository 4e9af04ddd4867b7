// Package chunk assembles large objects from bounded-size chunks.
//
// An Engine holds the state for exactly one in-flight object and supports two
// upload modes that share a single output buffer:
//
// Sequential mode: the caller guarantees order and every Append grows the
// buffer directly.
//
// Parallel mode: chunks arrive keyed by an explicit ordinal, in any order and
// possibly with gaps. They sit in the chunk store until the caller confirms
// completeness and calls Consolidate, which concatenates ordinals
// 0..expected-1 in ascending order into the buffer and empties the store.
//
// ReadAndClear is the single finalize operation for both modes: it hands back
// the buffer and resets it, so the same object can never be returned twice.
//
// STATE OWNERSHIP:
//
// Engine is a plain value owned by its caller. It takes no locks and none of
// its methods block; callers that share an Engine across goroutines must
// serialize access themselves (see internal/host, which runs every call on a
// single goroutine).
//
// RESTART SURVIVAL:
//
// Export and Import move the complete state (mode, buffer and chunk store)
// through a versioned, length-prefixed binary snapshot ending in a BLAKE3
// digest. Import is all-or-nothing: a malformed snapshot leaves the Engine
// exactly as it was.
package chunk
