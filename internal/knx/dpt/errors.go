package dpt

import "errors"

// ErrDptNotFound is returned when neither the exact DPT tag nor its major
// fallback is registered.
var ErrDptNotFound = errors.New("knx/dpt: datapoint type not registered")

// ErrInvalidPayload is returned when a decoder receives a buffer of the
// wrong length or an out-of-range/reserved wire value.
var ErrInvalidPayload = errors.New("knx/dpt: invalid datapoint payload")

// ErrInvalidValue is returned when an encoder receives a typed value that
// doesn't match the DPT's shape or falls outside its valid domain.
var ErrInvalidValue = errors.New("knx/dpt: invalid value for datapoint type")
