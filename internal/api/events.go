package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/knx-gateway/internal/gateway"
	"github.com/nerrad567/knx-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/knx-gateway/internal/knx/address"
)

const (
	eventSendBufferSize = 64
	eventPingInterval   = 30 * time.Second
	eventPongWait       = 60 * time.Second
)

// wireEvent is the newline-delimited JSON frame streamed on GET /events,
// a flattened rendering of gateway.Event safe to marshal (gateway.Event
// carries an error and a raw cEMI frame, neither of which marshal as-is).
type wireEvent struct {
	Kind      string `json:"kind"`
	Error     string `json:"error,omitempty"`
	GA        string `json:"ga,omitempty"`
	Seq       uint8  `json:"seq,omitempty"`
	Timestamp string `json:"timestamp"`
}

func toWireEvent(ev gateway.Event) wireEvent {
	w := wireEvent{
		Kind:      ev.Kind.String(),
		Seq:       ev.Seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if ev.Err != nil {
		w.Error = ev.Err.Error()
	}
	if ev.Frame.Dst != 0 {
		w.GA = address.GroupFromUint16(ev.Frame.Dst).String()
	}
	return w
}

// eventHub fans the gateway's event stream out to every connected
// GET /events WebSocket client as newline-delimited JSON.
type eventHub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
}

func newEventHub(logger *logging.Logger) *eventHub {
	return &eventHub{
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
}

// run drains the gateway's event channel and broadcasts until ctx is
// cancelled or the channel closes.
func (h *eventHub) run(ctx context.Context, events <-chan gateway.Event) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-events:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *eventHub) broadcast(ev gateway.Event) {
	payload, err := json.Marshal(toWireEvent(ev))
	if err != nil {
		h.logger.Warn("failed to marshal event", "error", err)
		return
	}
	payload = append(payload, '\n')

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(payload)
	}
}

func (h *eventHub) register(c *eventClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *eventHub) unregister(c *eventClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if existed {
		close(c.send)
	}
}

func (h *eventHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		c.conn.Close()
		delete(h.clients, c)
	}
}

// eventClient is one connected GET /events subscriber.
type eventClient struct {
	hub  *eventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *eventClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // absorb send-on-closed-channel panic
	}()
	select {
	case c.send <- data:
	default:
		// Slow client; drop the frame rather than block the broadcaster.
	}
}

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams the gateway's normalised
// event feed as newline-delimited JSON until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("events websocket upgrade failed", "error", err)
		return
	}

	client := &eventClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, eventSendBufferSize),
	}
	s.hub.register(client)

	go client.readPump()
	client.writePump()
}

// readPump discards incoming messages (this stream is server-to-client
// only) but is required to process control frames (pong/close) and detect
// disconnects.
func (c *eventClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	//nolint:errcheck // best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(eventPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(eventPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				//nolint:errcheck // best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(eventPongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(eventPongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
