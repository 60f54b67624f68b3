package component

import "errors"

// Component errors.
var (
	// ErrConfiguration indicates an invalid database configuration section.
	ErrConfiguration = errors.New("invalid component configuration")

	// ErrDuplicateResource indicates a resource name collision at publish
	// time.
	ErrDuplicateResource = errors.New("duplicate resource name")

	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("component already started")
)
