package lifecycle

import "errors"

// Sentinel errors for lifecycle operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, lifecycle.ErrFinished) {
//	    // Context already completed
//	}
var (
	// ErrFinished indicates the context has already completed. Returned by
	// a second Finish call and by registrations attempted after completion.
	ErrFinished = errors.New("lifecycle: context already finished")

	// ErrNotFound indicates no resource is published under the given name.
	ErrNotFound = errors.New("lifecycle: resource not found")

	// ErrDuplicate indicates a resource name is already taken.
	ErrDuplicate = errors.New("lifecycle: duplicate resource name")

	// ErrWrongType indicates a resource exists but has an unexpected type.
	ErrWrongType = errors.New("lifecycle: resource has wrong type")
)
