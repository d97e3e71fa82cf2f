// Package routing implements the KNXnet/IP multicast routing client: a
// single multicast socket joined to the KNX routing group, a bounded
// rate-limited send queue, and the ROUTING_BUSY flow-control algorithm
// (randomised back-off plus a slow-decrement counter).
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/knx-gateway/internal/knx/cemi"
	"github.com/nerrad567/knx-gateway/internal/knx/knxip"
)

// MulticastGroup is the fixed KNX routing multicast address.
const MulticastGroup = "224.0.23.12"

// DefaultPort is the standard KNXnet/IP routing/tunneling UDP port.
const DefaultPort = 3671

// Defaults for the send queue and rate limit.
const (
	DefaultQueueCapacity = 50
	DefaultSendGap       = 20 * time.Millisecond
	DefaultTTL           = 128
	busyDedupWindow      = 10 * time.Millisecond
	busyRandomUnit       = 50 * time.Millisecond
	busySlowUnit         = 100 * time.Millisecond
	busyDecrementPeriod  = 5 * time.Millisecond
)

// PacketConn is the multicast transport the client runs over.
// *net.UDPConn satisfies it; tests inject a fake.
type PacketConn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
}

// EventKind discriminates the routing client's event stream.
type EventKind int

// Event kinds.
const (
	EventIndication EventKind = iota
	EventLostMessage
	EventQueueOverflow
	EventBusyPaused
	EventBusyResumed
	EventError
)

// Event is one entry in the routing client's event stream.
type Event struct {
	Kind  EventKind
	Err   error
	Frame cemi.Frame
	Busy  knxip.RoutingBusy
}

// Config configures a Client.
type Config struct {
	Interface *net.Interface
	Port      uint16
	TTL       int
	Loopback  bool

	QueueCapacity int
	SendGap       time.Duration

	Logger *slog.Logger

	// dial is overridden in tests to avoid opening a real multicast socket.
	dial func() (PacketConn, net.Addr, error)
}

func (c *Config) setDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.SendGap == 0 {
		c.SendGap = DefaultSendGap
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a KNXnet/IP routing connection: one multicast socket shared
// for both sending ROUTING_INDICATION and receiving everything the group
// carries. All exported methods are safe for concurrent use.
type Client struct {
	cfg Config

	mu           sync.Mutex
	started      bool
	conn         PacketConn
	groupAddr    net.Addr
	queue        [][]byte
	paused       bool
	resumeAt     time.Time
	busyCount    int
	lastBusyTime time.Time
	haveLastBusy bool
	lastSendTime time.Time
	haveLastSend bool

	slowTimer       *time.Timer
	decrementTicker *time.Ticker

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Client. Call Start to join the multicast group.
func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:    cfg,
		events: make(chan Event, 64),
	}
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.cfg.Logger.Warn("routing event dropped, subscriber too slow", "kind", ev.Kind)
	}
}

// Start joins the KNX routing multicast group and begins the background
// receive and send-queue-drain loops.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("knx/routing: Start called twice")
	}
	c.mu.Unlock()

	conn, groupAddr, err := c.dial()
	if err != nil {
		return fmt.Errorf("knx/routing: join multicast group: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.groupAddr = groupAddr
	c.started = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readLoop()
	go c.sendLoop()
	return nil
}

func (c *Client) dial() (PacketConn, net.Addr, error) {
	if c.cfg.dial != nil {
		return c.cfg.dial()
	}

	groupAddr := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: int(c.cfg.Port)}
	udpConn, err := net.ListenMulticastUDP("udp4", c.cfg.Interface, groupAddr)
	if err != nil {
		return nil, nil, err
	}
	if err := udpConn.SetMulticastTTL(c.cfg.TTL); err != nil {
		udpConn.Close()
		return nil, nil, err
	}
	if err := udpConn.SetMulticastLoopback(c.cfg.Loopback); err != nil {
		udpConn.Close()
		return nil, nil, err
	}
	return udpConn, groupAddr, nil
}

// Stop closes the multicast socket and stops the background loops.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	conn := c.conn
	done := c.done
	if c.slowTimer != nil {
		c.slowTimer.Stop()
	}
	if c.decrementTicker != nil {
		c.decrementTicker.Stop()
	}
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// Send builds a ROUTING_INDICATION carrying frame and enqueues it. If the
// queue is at capacity, the oldest queued packet is dropped (per the KNX
// routing rule that the newest frame wins) and an EventQueueOverflow is
// emitted.
func (c *Client) Send(frame cemi.Frame) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}
	c.mu.Unlock()

	frameBuf, err := frame.Build()
	if err != nil {
		return err
	}
	pkt := knxip.Build(knxip.RoutingIndication, frameBuf)

	c.mu.Lock()
	overflowed := false
	if len(c.queue) >= c.cfg.QueueCapacity {
		c.queue = c.queue[1:]
		overflowed = true
	}
	c.queue = append(c.queue, pkt)
	c.mu.Unlock()

	if overflowed {
		c.emit(Event{Kind: EventQueueOverflow, Err: ErrQueueOverflow})
	}
	return nil
}

// sendLoop drains the queue at the configured rate, pausing while a
// ROUTING_BUSY back-off window is in effect.
func (c *Client) sendLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.tryDrainOne()
		}
	}
}

func (c *Client) tryDrainOne() {
	now := time.Now()

	c.mu.Lock()
	if c.paused {
		if now.Before(c.resumeAt) {
			c.mu.Unlock()
			return
		}
		c.paused = false
		c.mu.Unlock()
		c.emit(Event{Kind: EventBusyResumed})
		c.mu.Lock()
	}
	if c.haveLastSend && now.Sub(c.lastSendTime) < c.cfg.SendGap {
		c.mu.Unlock()
		return
	}
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	pkt := c.queue[0]
	c.queue = c.queue[1:]
	c.lastSendTime = now
	c.haveLastSend = true
	conn := c.conn
	groupAddr := c.groupAddr
	c.mu.Unlock()

	_, _ = conn.WriteTo(pkt, groupAddr)
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-c.done:
			return
		default:
		}
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		c.handleInbound(buf[:n])
	}
}

func (c *Client) handleInbound(buf []byte) {
	pkt, err := knxip.Parse(buf)
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}
	switch pkt.ServiceType {
	case knxip.RoutingIndication:
		frame, err := cemi.Parse(pkt.Body)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		c.emit(Event{Kind: EventIndication, Frame: frame})
	case knxip.RoutingBusyService:
		busy, err := knxip.ParseRoutingBusy(pkt.Body)
		if err != nil {
			c.emit(Event{Kind: EventError, Err: err})
			return
		}
		c.handleBusy(busy)
	case knxip.RoutingLostMessage:
		c.emit(Event{Kind: EventLostMessage})
	}
}

// handleBusy implements the ROUTING_BUSY back-off algorithm: a persistent
// counter N incremented at most once per 10 ms dedup window, a randomised
// pause of busy.WaitTimeMS + rand()*N*50ms, and a slow-decrement timer
// that ticks N back down to zero 100ms*N after the last busy event.
func (c *Client) handleBusy(busy knxip.RoutingBusy) {
	now := time.Now()

	c.mu.Lock()
	if !c.haveLastBusy || now.Sub(c.lastBusyTime) > busyDedupWindow {
		c.busyCount++
	}
	c.lastBusyTime = now
	c.haveLastBusy = true
	n := c.busyCount

	tRandom := time.Duration(rand.Float64() * float64(n) * float64(busyRandomUnit))
	totalWait := time.Duration(busy.WaitTimeMS)*time.Millisecond + tRandom
	c.paused = true
	c.resumeAt = now.Add(totalWait)

	if c.slowTimer != nil {
		c.slowTimer.Stop()
	}
	if c.decrementTicker != nil {
		c.decrementTicker.Stop()
		c.decrementTicker = nil
	}
	slowDuration := time.Duration(n) * busySlowUnit
	c.slowTimer = time.AfterFunc(slowDuration, c.startSlowDecrement)
	c.mu.Unlock()

	c.emit(Event{Kind: EventBusyPaused, Busy: busy})
}

func (c *Client) startSlowDecrement() {
	c.mu.Lock()
	if c.decrementTicker != nil {
		c.decrementTicker.Stop()
	}
	ticker := time.NewTicker(busyDecrementPeriod)
	c.decrementTicker = ticker
	c.mu.Unlock()

	for range ticker.C {
		c.mu.Lock()
		if c.busyCount > 0 {
			c.busyCount--
		}
		done := c.busyCount == 0
		if done {
			ticker.Stop()
			c.decrementTicker = nil
		}
		c.mu.Unlock()
		if done {
			return
		}
	}
}
