package engine

import "errors"

// Sentinel errors for engine construction and lifecycle.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, engine.ErrConfiguration) {
//	    // Abort startup: the config is unusable
//	}
var (
	// ErrConfiguration indicates a malformed or contradictory connection
	// descriptor. Fatal at startup.
	ErrConfiguration = errors.New("engine: invalid configuration")

	// ErrUnknownDriver indicates the requested driver is not one of the
	// supported backends (sqlite3, mysql, postgres).
	ErrUnknownDriver = errors.New("engine: unknown driver")

	// ErrUnknownPoolProfile indicates a pool profile reference that cannot
	// be resolved.
	ErrUnknownPoolProfile = errors.New("engine: unknown pool profile")

	// ErrReservedName indicates an engine name that collides with a
	// reserved resource identifier.
	ErrReservedName = errors.New("engine: reserved engine name")

	// ErrClosed indicates use of an engine after Close.
	ErrClosed = errors.New("engine: engine is closed")
)
