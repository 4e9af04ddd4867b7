// Package kv provides SQLite-backed durable key-value storage for state that
// must survive a restart of the host.
//
// Values are opaque byte strings. Keys are plain strings with a '/'
// namespace convention; Keys(prefix) lists a namespace in ascending byte
// order so restores are deterministic.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Apply writes a Batch in a single transaction, so a restart boundary either
// lands completely or not at all.
package kv
