package apdu

import "errors"

// ErrBadAPDU is returned when an APDU buffer is too short or its short-data
// flag is inconsistent with the supplied data.
var ErrBadAPDU = errors.New("knx/apdu: malformed APDU")
