// Package tunnel implements the KNXnet/IP tunneling client: a single
// UDP unicast connection to a gateway, carrying cEMI L_Data frames inside
// TUNNELLING_REQUEST/ACK, with a CONNECTIONSTATE heartbeat and bounded
// reconnect backoff.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/knx-gateway/internal/knx/address"
	"github.com/nerrad567/knx-gateway/internal/knx/apdu"
	"github.com/nerrad567/knx-gateway/internal/knx/cemi"
	"github.com/nerrad567/knx-gateway/internal/knx/ctrlfield"
	"github.com/nerrad567/knx-gateway/internal/knx/dpt"
	"github.com/nerrad567/knx-gateway/internal/knx/knxip"
)

// State is a tunnel connection's lifecycle state.
type State int

// Lifecycle states, per the Disconnected -> Connecting -> Connected ->
// Disconnecting -> Disconnected cycle.
const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

// String renders a human-readable state name for logging.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Default timing per the tunneling client's component design.
const (
	DefaultConnectTimeout     = 5 * time.Second
	DefaultHeartbeatInterval  = 60 * time.Second
	DefaultHeartbeatTimeout   = 10 * time.Second
	DefaultAckTimeout         = 1 * time.Second
	DefaultReconnectInitial   = 3 * time.Second
	DefaultReconnectMax       = 60 * time.Second
)

// Conn is the UDP transport the client runs over. *net.UDPConn satisfies
// it; tests inject a fake to exercise the client without real sockets.
type Conn interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	ReadFrom(b []byte) (int, net.Addr, error)
	Close() error
	LocalAddr() net.Addr
}

// EventKind discriminates the tunnel client's event stream.
type EventKind int

// Event kinds.
const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
	EventIndication
	EventAckReceived
	EventAckTimeout
)

// Event is one entry in the tunnel client's event stream.
type Event struct {
	Kind       EventKind
	Err        error
	Frame      cemi.Frame
	Seq        uint8
}

// Config configures a Client.
type Config struct {
	GatewayAddr *net.UDPAddr
	// Priority is used for outbound L_Data.req frames. Defaults to low.
	Priority ctrlfield.Priority

	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	AckTimeout        time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	Logger *slog.Logger

	// dial is overridden in tests to avoid opening a real socket.
	dial func() (Conn, error)
}

func (c *Config) setDefaults() {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ReconnectInitial == 0 {
		c.ReconnectInitial = DefaultReconnectInitial
	}
	if c.ReconnectMax == 0 {
		c.ReconnectMax = DefaultReconnectMax
	}
	if c.Priority == 0 {
		c.Priority = ctrlfield.PriorityLow
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type pendingAck struct {
	packet      []byte
	deadline    time.Time
	retriesLeft int
}

// Client is a single KNXnet/IP tunneling connection. All exported methods
// are safe for concurrent use.
type Client struct {
	cfg Config

	mu            sync.Mutex
	state         State
	conn          Conn
	channelID     uint8
	assignedAddr  address.Individual
	txSeq         uint8
	haveLastRx bool
	lastRxSeq  uint8
	pending    map[uint8]*pendingAck
	hbAckCh    chan struct{}
	closing    bool

	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Client. Call Connect to establish the connection.
func New(cfg Config) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		pending: make(map[uint8]*pendingAck),
		events:  make(chan Event, 64),
	}
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.cfg.Logger.Warn("tunnel event dropped, subscriber too slow", "kind", ev.Kind)
	}
}

// Connect dials the gateway, performs the CONNECT_REQUEST/RESPONSE
// handshake, and starts the background reader and heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("knx/tunnel: Connect called in state %s", c.state)
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dial()
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("knx/tunnel: dial: %w", err)
	}

	channelID, assigned, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		c.setState(Disconnected)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.channelID = channelID
	c.assignedAddr = assigned
	c.state = Connected
	c.done = make(chan struct{})
	c.txSeq = 0
	c.haveLastRx = false
	c.pending = make(map[uint8]*pendingAck)
	c.mu.Unlock()

	c.wg.Add(3)
	go c.readLoop()
	go c.heartbeatLoop()
	go c.ackSweepLoop()

	c.emit(Event{Kind: EventConnected})
	return nil
}

func (c *Client) dial() (Conn, error) {
	if c.cfg.dial != nil {
		return c.cfg.dial()
	}
	udpConn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, err
	}
	return udpConn, nil
}

// handshake sends CONNECT_REQUEST and blocks for CONNECT_RESPONSE or the
// configured connect timeout.
func (c *Client) handshake(ctx context.Context, conn Conn) (uint8, address.Individual, error) {
	local, _ := conn.LocalAddr().(*net.UDPAddr)
	if local == nil {
		local = &net.UDPAddr{}
	}
	hpai := knxip.HPAI{Protocol: knxip.ProtocolUDP4, Addr: local.IP, Port: uint16(local.Port)}
	cri := knxip.CRI{ConnType: knxip.ConnTypeTunnel, Layer: knxip.TunnelLinkLayer}

	body := append(append(hpai.Build(), hpai.Build()...), cri.Build()...)
	pkt := knxip.Build(knxip.ConnectRequest, body)

	if _, err := conn.WriteTo(pkt, c.cfg.GatewayAddr); err != nil {
		return 0, address.Individual{}, fmt.Errorf("knx/tunnel: send CONNECT_REQUEST: %w", err)
	}

	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	buf := make([]byte, 512)
	for {
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, address.Individual{}, ErrConnectTimeout
		}
		setReadDeadline(conn, time.Now().Add(remaining))

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, address.Individual{}, fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		pktIn, err := knxip.Parse(buf[:n])
		if err != nil || pktIn.ServiceType != knxip.ConnectResponse {
			continue
		}
		if len(pktIn.Body) < 2 {
			continue
		}
		channelID := pktIn.Body[0]
		status := pktIn.Body[1]
		if status != 0 {
			return 0, address.Individual{}, fmt.Errorf("knx/tunnel: CONNECT_RESPONSE status 0x%02X", status)
		}
		_, hLen, err := knxip.ParseHPAI(pktIn.Body[2:])
		if err != nil {
			return 0, address.Individual{}, err
		}
		crd, _, err := knxip.ParseCRD(pktIn.Body[2+hLen:])
		if err != nil {
			return 0, address.Individual{}, err
		}
		return channelID, address.IndividualFromUint16(crd.AssignedAddress), nil
	}
}

func setReadDeadline(conn Conn, t time.Time) {
	type deadliner interface{ SetReadDeadline(time.Time) error }
	if d, ok := conn.(deadliner); ok {
		_ = d.SetReadDeadline(t)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Write encodes value for tag, builds the APDU/cEMI/tunnelling envelope,
// and enqueues it as an outbound TUNNELLING_REQUEST.
func (c *Client) Write(ctx context.Context, dst address.Group, tag int, value any) error {
	return c.send(ctx, dst, tag, value, false)
}

// Read sends a GroupValue_Read request for dst; the response (if any)
// arrives asynchronously as an EventIndication.
func (c *Client) Read(ctx context.Context, dst address.Group) error {
	return c.send(ctx, dst, 0, nil, true)
}

func (c *Client) send(ctx context.Context, dst address.Group, tag int, value any, isRead bool) error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	channelID := c.channelID
	priority := c.cfg.Priority
	c.mu.Unlock()

	var tpdu []byte
	var err error
	if isRead {
		tpdu, err = apdu.Build(apdu.TPCI{Kind: apdu.TPCIUnnumberedData}, apdu.GroupValueRead, false, nil)
	} else {
		var entry dpt.Entry
		entry, err = dpt.Lookup(tag)
		if err != nil {
			return err
		}
		var payload []byte
		payload, err = entry.Encode(value)
		if err != nil {
			return err
		}
		tpdu, err = apdu.Build(apdu.TPCI{Kind: apdu.TPCIUnnumberedData}, apdu.GroupValueWrite, entry.Short, payload)
	}
	if err != nil {
		return err
	}

	frame := cemi.Frame{
		MessageCode: cemi.LDataReq,
		Ctrl1:       ctrlfield.NewStandard(priority),
		Ctrl2:       ctrlfield.Extended{AddressType: ctrlfield.AddrGroup, HopCount: 6},
		Dst:         dst.ToUint16(),
		TPDU:        tpdu,
	}
	frameBuf, err := frame.Build()
	if err != nil {
		return err
	}

	seq := c.nextTxSeq()
	hdr := knxip.ConnHeader{ChannelID: channelID, Seq: seq}
	body := append(hdr.Build(), frameBuf...)
	pkt := knxip.Build(knxip.TunnellingRequest, body)

	c.mu.Lock()
	c.pending[seq] = &pendingAck{packet: pkt, deadline: time.Now().Add(c.cfg.AckTimeout), retriesLeft: 1}
	c.mu.Unlock()

	_, err = conn.WriteTo(pkt, c.cfg.GatewayAddr)
	return err
}

func (c *Client) nextTxSeq() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.txSeq
	c.txSeq++
	return seq
}

// isDuplicateRx reports whether rxSeq should be dropped as a repeat of an
// already-delivered sequence number, using a modular comparison so it
// tolerates the 8-bit wraparound.
func isDuplicateRx(rxSeq, lastRxSeq uint8, haveLast bool) bool {
	if !haveLast {
		return false
	}
	return int8(rxSeq-lastRxSeq) <= 0
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
		setReadDeadline(c.conn, time.Now().Add(500*time.Millisecond))
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
	case knxip.TunnellingAck:
		c.handleAck(pkt.Body)
	case knxip.TunnellingRequest:
		c.handleTunnellingRequest(pkt.Body)
	case knxip.ConnectionStateResponse:
		c.handleConnectionStateResponse(pkt.Body)
	}
}

func (c *Client) handleAck(body []byte) {
	hdr, _, err := knxip.ParseConnHeader(body)
	if err != nil {
		return
	}
	c.mu.Lock()
	_, ok := c.pending[hdr.Seq]
	if ok {
		delete(c.pending, hdr.Seq)
	}
	c.mu.Unlock()
	if ok {
		c.emit(Event{Kind: EventAckReceived, Seq: hdr.Seq})
	}
}

func (c *Client) handleTunnellingRequest(body []byte) {
	hdr, n, err := knxip.ParseConnHeader(body)
	if err != nil {
		return
	}
	c.mu.Lock()
	if hdr.ChannelID != c.channelID {
		c.mu.Unlock()
		return
	}
	duplicate := isDuplicateRx(hdr.Seq, c.lastRxSeq, c.haveLastRx)
	if !duplicate {
		c.lastRxSeq = hdr.Seq
		c.haveLastRx = true
	}
	conn := c.conn
	channelID := c.channelID
	c.mu.Unlock()

	ackHdr := knxip.ConnHeader{ChannelID: channelID, Seq: hdr.Seq}
	ackPkt := knxip.Build(knxip.TunnellingAck, ackHdr.Build())
	_, _ = conn.WriteTo(ackPkt, c.cfg.GatewayAddr)

	if duplicate {
		return
	}

	frame, err := cemi.Parse(body[n:])
	if err != nil {
		c.emit(Event{Kind: EventError, Err: err})
		return
	}
	c.emit(Event{Kind: EventIndication, Frame: frame})
}

func (c *Client) handleConnectionStateResponse(body []byte) {
	if len(body) < 2 {
		return
	}
	c.heartbeatAcked()
}

var heartbeatAckSentinel = struct{}{}

func (c *Client) heartbeatAcked() {
	select {
	case c.heartbeatCh() <- heartbeatAckSentinel:
	default:
	}
}

func (c *Client) heartbeatCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hbAckCh == nil {
		c.hbAckCh = make(chan struct{}, 1)
	}
	return c.hbAckCh
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !c.sendHeartbeat() {
				c.teardown(ErrHeartbeatStale)
				return
			}
		}
	}
}

func (c *Client) sendHeartbeat() bool {
	c.mu.Lock()
	conn := c.conn
	channelID := c.channelID
	c.mu.Unlock()

	local, _ := conn.LocalAddr().(*net.UDPAddr)
	if local == nil {
		local = &net.UDPAddr{}
	}
	hpai := knxip.HPAI{Protocol: knxip.ProtocolUDP4, Addr: local.IP, Port: uint16(local.Port)}
	body := append([]byte{channelID, 0x00}, hpai.Build()...)
	pkt := knxip.Build(knxip.ConnectionStateRequest, body)
	if _, err := conn.WriteTo(pkt, c.cfg.GatewayAddr); err != nil {
		return false
	}

	select {
	case <-c.heartbeatCh():
		return true
	case <-time.After(c.cfg.HeartbeatTimeout):
		return false
	case <-c.done:
		return true
	}
}

// ackSweepLoop periodically scans the pending-ack map for expired
// deadlines, retransmitting once before giving up on a sequence number.
func (c *Client) ackSweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweepPendingAcks()
		}
	}
}

func (c *Client) sweepPendingAcks() {
	now := time.Now()

	c.mu.Lock()
	conn := c.conn
	var toRetransmit []*pendingAck
	var timedOutSeqs []uint8
	for seq, p := range c.pending {
		if now.Before(p.deadline) {
			continue
		}
		if p.retriesLeft > 0 {
			p.retriesLeft--
			p.deadline = now.Add(c.cfg.AckTimeout)
			toRetransmit = append(toRetransmit, p)
		} else {
			timedOutSeqs = append(timedOutSeqs, seq)
			delete(c.pending, seq)
		}
	}
	c.mu.Unlock()

	for _, p := range toRetransmit {
		_, _ = conn.WriteTo(p.packet, c.cfg.GatewayAddr)
	}
	for _, seq := range timedOutSeqs {
		c.emit(Event{Kind: EventAckTimeout, Seq: seq, Err: ErrAckTimeout})
	}
	// A second consecutive miss on any sequence means the gateway is no
	// longer acknowledging frames; the connection is no longer usable.
	if len(timedOutSeqs) > 0 {
		c.teardown(ErrAckTimeout)
	}
}

func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Disconnected
	closing := c.closing
	done := c.done
	conn := c.conn
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.Close()
	}
	c.emit(Event{Kind: EventDisconnected, Err: cause})

	if cause != nil && !closing {
		go c.reconnectWithBackoff()
	}
}

// reconnectWithBackoff retries Connect with exponential backoff starting
// at ReconnectInitial, capped at ReconnectMax, until it succeeds or the
// client is deliberately closed via Disconnect.
func (c *Client) reconnectWithBackoff() {
	wait := c.cfg.ReconnectInitial
	for {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return
		}

		time.Sleep(wait)

		c.mu.Lock()
		closing = c.closing
		c.mu.Unlock()
		if closing {
			return
		}

		if err := c.Connect(context.Background()); err == nil {
			return
		}

		wait *= 2
		if wait > c.cfg.ReconnectMax {
			wait = c.cfg.ReconnectMax
		}
	}
}

// Disconnect sends DISCONNECT_REQUEST and tears the connection down.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return nil
	}
	c.state = Disconnecting
	c.closing = true
	conn := c.conn
	channelID := c.channelID
	c.mu.Unlock()

	local, _ := conn.LocalAddr().(*net.UDPAddr)
	if local == nil {
		local = &net.UDPAddr{}
	}
	hpai := knxip.HPAI{Protocol: knxip.ProtocolUDP4, Addr: local.IP, Port: uint16(local.Port)}
	body := append([]byte{channelID, 0x00}, hpai.Build()...)
	pkt := knxip.Build(knxip.DisconnectRequest, body)
	_, _ = conn.WriteTo(pkt, c.cfg.GatewayAddr)

	c.teardown(nil)
	c.wg.Wait()
	return nil
}
