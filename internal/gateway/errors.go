package gateway

import "errors"

var (
	// ErrUnknownGroupAddress is returned when a write/read request names a
	// group address absent from the configured address table and carries no
	// explicit DPT, so no tag can be resolved.
	ErrUnknownGroupAddress = errors.New("gateway: unknown group address")

	// ErrInvalidConnection indicates gateway.connection does not parse as a
	// tunnel:// or routing:// target.
	ErrInvalidConnection = errors.New("gateway: invalid connection string")

	// ErrNotRunning reports that the underlying bus client is not running.
	// Write and Read do not return it; before the first connect/start they
	// pass on the transport client's own error.
	ErrNotRunning = errors.New("gateway: bus client not running")
)
