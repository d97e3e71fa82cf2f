package tunnel

import "errors"

// ErrNotConnected is returned when Write/Read is called before Connect
// succeeds, or after the connection has been torn down.
var ErrNotConnected = errors.New("knx/tunnel: not connected")

// ErrConnectTimeout is returned when CONNECT_RESPONSE doesn't arrive
// within the configured connect deadline.
var ErrConnectTimeout = errors.New("knx/tunnel: connect timed out")

// ErrAckTimeout is returned when two consecutive TUNNELLING_ACKs are
// missed for the same outbound sequence number.
var ErrAckTimeout = errors.New("knx/tunnel: tunnelling ack timed out")

// ErrHeartbeatStale is returned when CONNECTIONSTATE_RESPONSE doesn't
// arrive within the heartbeat timeout.
var ErrHeartbeatStale = errors.New("knx/tunnel: heartbeat stale")
