package routing

import "errors"

// ErrQueueOverflow is surfaced as a queue_overflow event (not returned to
// the caller) when the send queue drops the oldest frame to make room.
var ErrQueueOverflow = errors.New("knx/routing: send queue overflow, oldest frame dropped")

// ErrNotStarted is returned when Send is called before Start succeeds or
// after Stop has torn the multicast socket down.
var ErrNotStarted = errors.New("knx/routing: not started")
