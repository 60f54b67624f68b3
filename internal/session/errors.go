package session

import "errors"

// Sentinel errors for session operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, session.ErrBindRequired) {
//	    // Multiple engines configured: pick one explicitly
//	}
var (
	// ErrBindRequired indicates unqualified execution on an unbound
	// session. Raised when several engines are configured and no explicit
	// target was chosen.
	ErrBindRequired = errors.New("session: no engine bound, explicit bind required")

	// ErrClosed indicates use of a session after Close.
	ErrClosed = errors.New("session: session is closed")

	// ErrNoTransaction indicates Commit or Rollback without an open
	// transaction.
	ErrNoTransaction = errors.New("session: no open transaction")

	// ErrAlreadyFinalized indicates a second finalization attempt for the
	// same session. Defensive; not expected in correct usage.
	ErrAlreadyFinalized = errors.New("session: already finalized")

	// ErrFinalize wraps commit or close failures during context teardown.
	ErrFinalize = errors.New("session: finalization failed")

	// ErrExecutorClosed indicates a finalization was submitted after the
	// commit executor shut down.
	ErrExecutorClosed = errors.New("session: commit executor is closed")
)
