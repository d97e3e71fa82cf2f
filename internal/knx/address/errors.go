package address

import "errors"

// ErrInvalidAddress is returned when an address string or raw value cannot
// be parsed or falls outside its defined range.
var ErrInvalidAddress = errors.New("knx/address: invalid address")
