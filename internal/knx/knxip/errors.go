package knxip

import "errors"

// ErrBadFrame is returned when a KNXnet/IP packet is truncated, carries a
// wrong header constant, or declares a TotalLength inconsistent with the
// buffer it was parsed from.
var ErrBadFrame = errors.New("knx/knxip: malformed packet")

// ErrUnknownServiceType is returned when a packet's service type isn't in
// the registry.
var ErrUnknownServiceType = errors.New("knx/knxip: unknown service type")
