package announce

import "errors"

// Sentinel errors for announcement operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, announce.ErrDisabled) {
//	    // Announcements are off; carry on without them
//	}
var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("announce: client not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("announce: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("announce: publish failed")

	// ErrDisabled indicates announcements are disabled in config.
	ErrDisabled = errors.New("announce: disabled in configuration")
)
