package routing

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knx-gateway/internal/knx/address"
	"github.com/nerrad567/knx-gateway/internal/knx/cemi"
	"github.com/nerrad567/knx-gateway/internal/knx/ctrlfield"
	"github.com/nerrad567/knx-gateway/internal/knx/knxip"
)

type fakePacketConn struct {
	mu      sync.Mutex
	writes  [][]byte
	inbound chan []byte
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{inbound: make(chan []byte, 32)}
}

func (f *fakePacketConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), b...))
	f.mu.Unlock()
	return len(b), nil
}

func (f *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case data := <-f.inbound:
		return copy(b, data), &net.UDPAddr{}, nil
	case <-time.After(20 * time.Millisecond):
		return 0, nil, errTimeout{}
	}
}

func (f *fakePacketConn) Close() error { return nil }

func (f *fakePacketConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "fake read timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

func newTestClient(fc *fakePacketConn) *Client {
	cfg := Config{
		dial: func() (PacketConn, net.Addr, error) { return fc, &net.UDPAddr{}, nil },
	}
	return New(cfg)
}

func testFrame(t *testing.T) cemi.Frame {
	t.Helper()
	return cemi.Frame{
		MessageCode: cemi.LDataReq,
		Ctrl1:       ctrlfield.Standard{StandardFrame: true, Priority: ctrlfield.PriorityLow},
		Ctrl2:       ctrlfield.Extended{AddressType: ctrlfield.AddrGroup, HopCount: 6},
		Dst:         address.Group{Main: 1, Middle: 1, Sub: 7}.ToUint16(),
		TPDU:        []byte{0x00, 0x81},
	}
}

func TestSendBeforeStartFails(t *testing.T) {
	c := newTestClient(newFakePacketConn())
	if err := c.Send(testFrame(t)); err != ErrNotStarted {
		t.Errorf("Send() error = %v, want ErrNotStarted", err)
	}
}

func TestStartAndSendDrainsQueue(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if err := c.Send(testFrame(t)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	for fc.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fc.writeCount() != 1 {
		t.Fatalf("writeCount() = %d, want 1", fc.writeCount())
	}

	pkt, err := knxip.Parse(fc.writes[0])
	if err != nil {
		t.Fatalf("Parse(sent) = %v", err)
	}
	if pkt.ServiceType != knxip.RoutingIndication {
		t.Errorf("ServiceType = %v, want RoutingIndication", pkt.ServiceType)
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	c.cfg.QueueCapacity = 2
	c.started = true // exercise the queue directly without a live drain loop
	c.events = make(chan Event, 8)

	f := testFrame(t)
	if err := c.Send(f); err != nil {
		t.Fatalf("Send 1: %v", err)
	}
	if err := c.Send(f); err != nil {
		t.Fatalf("Send 2: %v", err)
	}
	if err := c.Send(f); err != nil {
		t.Fatalf("Send 3 (should overflow): %v", err)
	}

	if len(c.queue) != 2 {
		t.Fatalf("queue length = %d, want 2 (capacity)", len(c.queue))
	}
	select {
	case ev := <-c.events:
		if ev.Kind != EventQueueOverflow {
			t.Errorf("event kind = %v, want EventQueueOverflow", ev.Kind)
		}
	default:
		t.Fatal("expected a queue_overflow event")
	}
}

func TestHandleBusyPausesAndIncrementsCounter(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	c.started = true
	c.events = make(chan Event, 8)

	busy := knxip.RoutingBusy{DeviceState: 1, WaitTimeMS: 50}
	c.handleBusy(busy)

	c.mu.Lock()
	if c.busyCount != 1 {
		t.Errorf("busyCount = %d, want 1", c.busyCount)
	}
	if !c.paused {
		t.Error("expected paused = true after ROUTING_BUSY")
	}
	c.mu.Unlock()

	select {
	case ev := <-c.events:
		if ev.Kind != EventBusyPaused {
			t.Errorf("event kind = %v, want EventBusyPaused", ev.Kind)
		}
	default:
		t.Fatal("expected a busy_paused event")
	}
}

func TestHandleBusyDedupWithin10ms(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	c.started = true
	c.events = make(chan Event, 8)

	busy := knxip.RoutingBusy{DeviceState: 1, WaitTimeMS: 50}
	c.handleBusy(busy)
	c.handleBusy(busy) // within the 10ms dedup window

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyCount != 1 {
		t.Errorf("busyCount = %d, want 1 (second busy within dedup window shouldn't increment)", c.busyCount)
	}
}

func TestHandleBusySecondAfterWindowIncrements(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	c.started = true
	c.events = make(chan Event, 8)

	busy := knxip.RoutingBusy{DeviceState: 1, WaitTimeMS: 50}
	c.handleBusy(busy)
	c.mu.Lock()
	c.lastBusyTime = c.lastBusyTime.Add(-20 * time.Millisecond)
	c.mu.Unlock()
	c.handleBusy(busy)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyCount != 2 {
		t.Errorf("busyCount = %d, want 2", c.busyCount)
	}
}

func TestReadLoopDeliversIndication(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	frameBuf, err := testFrame(t).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	fc.inbound <- knxip.Build(knxip.RoutingIndication, frameBuf)

	select {
	case ev := <-c.Events():
		if ev.Kind != EventIndication {
			t.Fatalf("event kind = %v, want EventIndication", ev.Kind)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for indication event")
	}
}

func TestReadLoopDeliversLostMessage(t *testing.T) {
	fc := newFakePacketConn()
	c := newTestClient(fc)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	fc.inbound <- knxip.Build(knxip.RoutingLostMessage, nil)

	select {
	case ev := <-c.Events():
		if ev.Kind != EventLostMessage {
			t.Fatalf("event kind = %v, want EventLostMessage", ev.Kind)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timed out waiting for lost-message event")
	}
}
