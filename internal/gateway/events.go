package gateway

import (
	"context"

	"github.com/nerrad567/knx-gateway/internal/knx/routing"
	"github.com/nerrad567/knx-gateway/internal/knx/tunnel"
)

// pumpTunnelEvents translates the tunnel client's event stream into the
// gateway's normalised Event stream, running side effects (discovery, MQTT,
// tsdb) for each indication, until ctx is cancelled or the channel closes.
func (c *Client) pumpTunnelEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.tunnelClient.Events():
			if !ok {
				return
			}
			c.handleTunnelEvent(ev)
		}
	}
}

func (c *Client) handleTunnelEvent(ev tunnel.Event) {
	switch ev.Kind {
	case tunnel.EventConnected:
		c.connected.Store(true)
		c.emit(Event{Kind: EventConnected})
	case tunnel.EventDisconnected:
		c.connected.Store(false)
		c.emit(Event{Kind: EventDisconnected})
	case tunnel.EventError:
		c.emit(Event{Kind: EventError, Err: ev.Err})
	case tunnel.EventIndication:
		c.handleIndication(ev.Frame)
		c.emit(Event{Kind: EventIndication, Frame: ev.Frame})
	case tunnel.EventAckReceived:
		c.emit(Event{Kind: EventAckReceived, Seq: ev.Seq})
	case tunnel.EventAckTimeout:
		c.mu.Lock()
		c.ackTimeouts++
		c.mu.Unlock()
		c.emit(Event{Kind: EventAckTimeout, Seq: ev.Seq})
	}
}

// pumpRoutingEvents translates the routing client's event stream into the
// gateway's normalised Event stream.
func (c *Client) pumpRoutingEvents(ctx context.Context) {
	c.connected.Store(true)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.routingClient.Events():
			if !ok {
				return
			}
			c.handleRoutingEvent(ev)
		}
	}
}

func (c *Client) handleRoutingEvent(ev routing.Event) {
	switch ev.Kind {
	case routing.EventIndication:
		c.handleIndication(ev.Frame)
		c.emit(Event{Kind: EventIndication, Frame: ev.Frame})
	case routing.EventLostMessage:
		c.emit(Event{Kind: EventRoutingLostMessage})
	case routing.EventQueueOverflow:
		c.mu.Lock()
		c.queueOverflows++
		c.mu.Unlock()
		c.emit(Event{Kind: EventQueueOverflow})
	case routing.EventBusyPaused, routing.EventBusyResumed:
		c.mu.Lock()
		c.busyEvents++
		c.mu.Unlock()
		c.emit(Event{Kind: EventRoutingBusy})
	case routing.EventError:
		c.emit(Event{Kind: EventError, Err: ev.Err})
	}
}
