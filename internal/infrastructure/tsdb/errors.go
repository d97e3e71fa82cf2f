package tsdb

import "errors"

// Sentinel errors for time-series history operations.
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("tsdb: not connected")

	// ErrQueryFailed indicates a history query failed.
	ErrQueryFailed = errors.New("tsdb: query failed")
)
