// Package lifecycle provides scoped unit-of-work contexts for dbscope.
//
// A Context represents one unit of work with a defined start and completion
// event. Resources (engines, session factories, per-context sessions) are
// attached to a Context for their lifetime and torn down when the Context
// finishes.
//
// # Completion Hooks
//
// Code that must run when a Context completes registers a hook:
//
//	cancel, err := lctx.OnCompletion(func(ctx context.Context, c lifecycle.Completion) error {
//	    // commit or roll back, release resources
//	    return nil
//	})
//
// OnCompletion returns a deregistration function; calling it removes the
// hook before it runs. Hooks run in reverse registration order (LIFO) so
// dependents tear down before their dependencies.
//
// # Resources
//
// Resources are published under string names. Plain resources are shared by
// the whole context tree; factory resources are instantiated lazily, once
// per requesting context, which is how per-context database sessions are
// wired (see internal/session).
//
// # Guarantees
//
//   - Finish runs hooks exactly once; a second Finish returns ErrFinished.
//   - When Finish returns, every hook has completed. Dependents never
//     observe a finished context with live hooks still running.
//   - Across sibling contexts there is no ordering guarantee.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package lifecycle
