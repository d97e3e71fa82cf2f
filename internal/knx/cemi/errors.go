package cemi

import "errors"

// ErrBadFrame is returned when a cEMI/EMI2 buffer is truncated or otherwise
// structurally malformed.
var ErrBadFrame = errors.New("knx/cemi: malformed frame")

// ErrUnknownMessageCode is returned when a received frame's message code
// isn't present in the service registry.
var ErrUnknownMessageCode = errors.New("knx/cemi: unknown message code")
