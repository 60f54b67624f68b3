// Package session provides unit-of-work database sessions for dbscope.
//
// A Session coordinates one logical transaction against one engine (or one
// pre-established connection). Sessions are produced by a Factory and, in
// normal operation, scoped to a lifecycle context by the Manager: created
// lazily on first resource access, finalized automatically when the context
// completes.
//
// # Finalization
//
// Finalization is the commit-or-rollback followed by close sequence run at
// context completion:
//
//   - clean completion, transaction open and healthy: commit, then close
//   - completion via error, or transaction already rolled back / poisoned:
//     close only (which rolls back anything still open)
//   - close runs unconditionally on every path; the connection always
//     returns to the pool
//
// Finalization runs exactly once per session, guarded by the session lock,
// even when an explicit application Close races with the automatic hook or
// when completion signals repeat. It executes on the bounded commit
// executor, never on the caller's scheduling goroutine, and is shielded
// from cancellation: a close that has begun always runs to completion,
// because a cancelled close can leak a pooled connection.
//
// # Binding
//
// With exactly one engine configured, the Factory auto-binds sessions to it
// and unqualified execution just works. With several engines, sessions are
// created unbound and statement execution fails with ErrBindRequired until
// a target is chosen via Factory.SessionOn.
//
// # Caller Contract
//
// A Session must never be used concurrently from more than one goroutine.
// The internal lock exists to make finalization races safe, not to make
// concurrent statement execution meaningful.
package session
