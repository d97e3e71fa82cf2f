package ctrlfield

import "errors"

// ErrOutOfRange is returned when a control-field setter receives a value
// outside its defined domain.
var ErrOutOfRange = errors.New("knx/ctrlfield: value out of range")
