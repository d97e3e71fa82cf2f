package tunnel

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knx-gateway/internal/knx/address"
	"github.com/nerrad567/knx-gateway/internal/knx/knxip"
)

func TestIsDuplicateRx(t *testing.T) {
	cases := []struct {
		name     string
		rx, last uint8
		haveLast bool
		want     bool
	}{
		{"first frame never seen", 0, 0, false, false},
		{"next in sequence", 5, 4, true, false},
		{"exact repeat", 4, 4, true, true},
		{"stale repeat", 3, 4, true, true},
		{"wraps forward across 255->0", 0, 255, true, false},
		{"wraps stale at boundary", 255, 0, true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := isDuplicateRx(tc.rx, tc.last, tc.haveLast)
			if got != tc.want {
				t.Errorf("isDuplicateRx(%d, %d, %v) = %v, want %v", tc.rx, tc.last, tc.haveLast, got, tc.want)
			}
		})
	}
}

func TestNextTxSeqWraps(t *testing.T) {
	c := New(Config{GatewayAddr: &net.UDPAddr{}})
	c.txSeq = 254
	if got := c.nextTxSeq(); got != 254 {
		t.Fatalf("nextTxSeq() = %d, want 254", got)
	}
	if got := c.nextTxSeq(); got != 255 {
		t.Fatalf("nextTxSeq() = %d, want 255", got)
	}
	if got := c.nextTxSeq(); got != 0 {
		t.Fatalf("nextTxSeq() = %d, want 0 (wrap)", got)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		Disconnected:  "disconnected",
		Connecting:    "connecting",
		Connected:     "connected",
		Disconnecting: "disconnecting",
	}
	for state, name := range want {
		if got := state.String(); got != name {
			t.Errorf("State(%d).String() = %q, want %q", state, got, name)
		}
	}
}

// fakeConn is an in-memory Conn used to drive the handshake and send path
// without opening a real socket.
type fakeConn struct {
	mu       sync.Mutex
	writes   [][]byte
	inbound  chan []byte
	closed   bool
	peerAddr net.Addr
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		peerAddr: &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 3671},
	}
}

func (f *fakeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	cp := append([]byte(nil), b...)
	f.writes = append(f.writes, cp)
	f.mu.Unlock()
	return len(b), nil
}

func (f *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case data := <-f.inbound:
		n := copy(b, data)
		return n, f.peerAddr, nil
	case <-time.After(50 * time.Millisecond):
		return 0, nil, errTimeout{}
	}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.ParseIP("10.0.0.9"), Port: 40000}
}

func (f *fakeConn) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "fake read timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

// connectResponseBody builds a CONNECT_RESPONSE body assigning channelID
// and individual address addr.
func connectResponseBody(channelID uint8, addr uint16) []byte {
	hpai := knxip.HPAI{Protocol: knxip.ProtocolUDP4, Addr: net.ParseIP("10.0.0.5"), Port: 3671}
	crd := knxip.CRD{ConnType: knxip.ConnTypeTunnel, AssignedAddress: addr}
	body := []byte{channelID, 0x00}
	body = append(body, hpai.Build()...)
	body = append(body, crd.Build()...)
	return body
}

func TestConnectHandshakeSuccess(t *testing.T) {
	fc := newFakeConn()
	cfg := Config{
		GatewayAddr: &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 3671},
		dial:        func() (Conn, error) { return fc, nil },
	}
	c := New(cfg)

	go func() {
		time.Sleep(5 * time.Millisecond)
		resp := knxip.Build(knxip.ConnectResponse, connectResponseBody(7, address.Individual{Area: 1, Line: 1, Device: 200}.ToUint16()))
		fc.inbound <- resp
	}()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	if c.State() != Connected {
		t.Fatalf("State() = %v, want Connected", c.State())
	}
	if c.channelID != 7 {
		t.Errorf("channelID = %d, want 7", c.channelID)
	}
	wantAddr := address.Individual{Area: 1, Line: 1, Device: 200}
	if c.assignedAddr != wantAddr {
		t.Errorf("assignedAddr = %+v, want %+v", c.assignedAddr, wantAddr)
	}
}

func TestConnectHandshakeTimeout(t *testing.T) {
	fc := newFakeConn()
	cfg := Config{
		GatewayAddr:    &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 3671},
		ConnectTimeout: 20 * time.Millisecond,
		dial:           func() (Conn, error) { return fc, nil },
	}
	c := New(cfg)

	err := c.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() succeeded, want timeout error")
	}
	if c.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected after failed connect", c.State())
	}
}

func TestWriteBeforeConnectFails(t *testing.T) {
	c := New(Config{GatewayAddr: &net.UDPAddr{}})
	dst := address.Group{Main: 1, Middle: 1, Sub: 7}
	if err := c.Write(context.Background(), dst, 1001, true); err != ErrNotConnected {
		t.Errorf("Write() error = %v, want ErrNotConnected", err)
	}
}

func TestWriteAssemblesTunnellingRequest(t *testing.T) {
	fc := newFakeConn()
	cfg := Config{
		GatewayAddr: &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 3671},
		dial:        func() (Conn, error) { return fc, nil },
	}
	c := New(cfg)

	go func() {
		time.Sleep(5 * time.Millisecond)
		resp := knxip.Build(knxip.ConnectResponse, connectResponseBody(3, 0))
		fc.inbound <- resp
	}()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect(context.Background())

	dst := address.Group{Main: 1, Middle: 1, Sub: 7}
	if err := c.Write(context.Background(), dst, 1001, true); err != nil {
		t.Fatalf("Write: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	buf := fc.lastWrite()
	pkt, err := knxip.Parse(buf)
	if err != nil {
		t.Fatalf("Parse(outbound) = %v", err)
	}
	if pkt.ServiceType != knxip.TunnellingRequest {
		t.Fatalf("ServiceType = %v, want TunnellingRequest", pkt.ServiceType)
	}
	hdr, _, err := knxip.ParseConnHeader(pkt.Body)
	if err != nil {
		t.Fatalf("ParseConnHeader: %v", err)
	}
	if hdr.ChannelID != 3 {
		t.Errorf("ChannelID = %d, want 3", hdr.ChannelID)
	}
}

func TestSweepPendingAcks_SecondMissTearsDownConnection(t *testing.T) {
	fc := newFakeConn()
	cfg := Config{GatewayAddr: &net.UDPAddr{}, dial: func() (Conn, error) { return fc, nil }}
	c := New(cfg)
	c.conn = fc
	c.channelID = 9
	c.state = Connected
	c.pending[5] = &pendingAck{packet: []byte{0x01}, deadline: time.Now().Add(-time.Second), retriesLeft: 0}

	c.sweepPendingAcks()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != Disconnected {
		t.Errorf("state = %v, want Disconnected after a second ack miss", state)
	}

	var gotAckTimeout, gotDisconnected bool
	for {
		select {
		case ev := <-c.Events():
			switch ev.Kind {
			case EventAckTimeout:
				gotAckTimeout = true
			case EventDisconnected:
				gotDisconnected = true
			}
			continue
		default:
		}
		break
	}
	if !gotAckTimeout {
		t.Error("expected an EventAckTimeout to be emitted")
	}
	if !gotDisconnected {
		t.Error("expected an EventDisconnected to be emitted when retries are exhausted")
	}
}

func TestSweepPendingAcks_FirstMissRetransmitsWithoutTearDown(t *testing.T) {
	fc := newFakeConn()
	cfg := Config{GatewayAddr: &net.UDPAddr{}, dial: func() (Conn, error) { return fc, nil }}
	c := New(cfg)
	c.conn = fc
	c.channelID = 9
	c.state = Connected
	c.pending[5] = &pendingAck{packet: []byte{0x01}, deadline: time.Now().Add(-time.Second), retriesLeft: 1}

	c.sweepPendingAcks()

	c.mu.Lock()
	state := c.state
	_, stillPending := c.pending[5]
	c.mu.Unlock()
	if state != Connected {
		t.Errorf("state = %v, want Connected after a first ack miss", state)
	}
	if !stillPending {
		t.Error("expected pending[5] to remain after a first miss (one retry left)")
	}
	if fc.lastWrite() == nil {
		t.Error("expected the packet to be retransmitted on first miss")
	}
}

func TestHandleAckClearsPending(t *testing.T) {
	fc := newFakeConn()
	cfg := Config{GatewayAddr: &net.UDPAddr{}, dial: func() (Conn, error) { return fc, nil }}
	c := New(cfg)
	c.conn = fc
	c.channelID = 9
	c.pending[5] = &pendingAck{packet: []byte{0x01}, deadline: time.Now().Add(time.Second), retriesLeft: 1}

	hdr := knxip.ConnHeader{ChannelID: 9, Seq: 5}
	c.handleAck(hdr.Build())

	c.mu.Lock()
	_, ok := c.pending[5]
	c.mu.Unlock()
	if ok {
		t.Error("pending[5] still present after ack")
	}
}

func TestHandleTunnellingRequestSendsAck(t *testing.T) {
	fc := newFakeConn()
	c := New(Config{GatewayAddr: &net.UDPAddr{}})
	c.conn = fc
	c.channelID = 2

	groupFrame := buildTestGroupFrame(t)
	connHdr := knxip.ConnHeader{ChannelID: 2, Seq: 0}
	body := append(connHdr.Build(), groupFrame...)

	c.handleTunnellingRequest(body)

	buf := fc.lastWrite()
	pkt, err := knxip.Parse(buf)
	if err != nil {
		t.Fatalf("Parse(ack) = %v", err)
	}
	if pkt.ServiceType != knxip.TunnellingAck {
		t.Fatalf("ServiceType = %v, want TunnellingAck", pkt.ServiceType)
	}
}

func TestHandleTunnellingRequestDropsDuplicate(t *testing.T) {
	fc := newFakeConn()
	c := New(Config{GatewayAddr: &net.UDPAddr{}})
	c.conn = fc
	c.channelID = 2

	groupFrame := buildTestGroupFrame(t)
	connHdr := knxip.ConnHeader{ChannelID: 2, Seq: 4}
	body := append(connHdr.Build(), groupFrame...)

	c.handleTunnellingRequest(body)
	select {
	case ev := <-c.events:
		if ev.Kind != EventIndication {
			t.Fatalf("first delivery event kind = %v, want EventIndication", ev.Kind)
		}
	default:
		t.Fatal("expected an indication event for the first delivery")
	}

	c.handleTunnellingRequest(body)
	select {
	case ev := <-c.events:
		t.Fatalf("unexpected event on duplicate delivery: %+v", ev)
	default:
	}
}

func buildTestGroupFrame(t *testing.T) []byte {
	t.Helper()
	dst := address.Group{Main: 1, Middle: 1, Sub: 7}.ToUint16()
	return []byte{
		0x29,       // L_Data.ind
		0x00,       // no additional info
		0xBC, 0xE0, // CTRL1, CTRL2 (group, hop count 6)
		0x00, 0x00, // source
		byte(dst >> 8), byte(dst),
		0x01,       // TPDU length (octets after the TPCI octet)
		0x00, 0x81, // GroupValueWrite, short data 0x01
	}
}

func TestBytesHelperSanity(t *testing.T) {
	if !bytes.Equal([]byte{1, 2}, []byte{1, 2}) {
		t.Fatal("sanity check failed")
	}
}
