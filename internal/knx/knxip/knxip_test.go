package knxip

import (
	"errors"
	"net"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	buf := Build(ConnectRequest, body)

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.ServiceType != ConnectRequest {
		t.Errorf("ServiceType = %v, want ConnectRequest", got.ServiceType)
	}
	if !bytesEqual(got.Body, body) {
		t.Errorf("Body = % X, want % X", got.Body, body)
	}
	wantTotal := 6 + len(body)
	if len(buf) != wantTotal {
		t.Errorf("len(buf) = %d, want %d", len(buf), wantTotal)
	}
}

func TestParseRejectsBadHeader(t *testing.T) {
	buf := Build(ConnectRequest, nil)
	buf[0] = 0x05
	if _, err := Parse(buf); !errors.Is(err, ErrBadFrame) {
		t.Errorf("Parse() error = %v, want ErrBadFrame", err)
	}
}

func TestParseRejectsLengthMismatch(t *testing.T) {
	buf := Build(ConnectRequest, []byte{0x01})
	truncated := buf[:len(buf)-1]
	if _, err := Parse(truncated); !errors.Is(err, ErrBadFrame) {
		t.Errorf("Parse(truncated) error = %v, want ErrBadFrame", err)
	}
}

func TestHPAIRoundTrip(t *testing.T) {
	h := HPAI{Protocol: ProtocolUDP4, Addr: net.ParseIP("192.168.1.10"), Port: 3671}
	buf := h.Build()
	got, n, err := ParseHPAI(buf)
	if err != nil {
		t.Fatalf("ParseHPAI: %v", err)
	}
	if n != 8 {
		t.Errorf("consumed = %d, want 8", n)
	}
	if got.Protocol != ProtocolUDP4 || got.Port != 3671 || !got.Addr.Equal(h.Addr) {
		t.Errorf("round trip = %+v, want %+v", got, h)
	}
}

func TestHPAINull(t *testing.T) {
	h := HPAI{Addr: net.IPv4zero}
	if !h.IsNull() {
		t.Error("expected null HPAI")
	}
}

func TestCRIRoundTrip(t *testing.T) {
	c := CRI{ConnType: ConnTypeTunnel, Layer: TunnelLinkLayer}
	buf := c.Build()
	want := []byte{0x04, 0x04, 0x02, 0x00}
	if !bytesEqual(buf, want) {
		t.Fatalf("Build() = % X, want % X", buf, want)
	}
	got, n, err := ParseCRI(buf)
	if err != nil {
		t.Fatalf("ParseCRI: %v", err)
	}
	if n != 4 || got != c {
		t.Errorf("round trip = %+v, want %+v", got, c)
	}
}

func TestConnHeaderRoundTrip(t *testing.T) {
	h := ConnHeader{ChannelID: 7, Seq: 42}
	buf := h.Build()
	want := []byte{0x04, 0x07, 0x2A, 0x00}
	if !bytesEqual(buf, want) {
		t.Fatalf("Build() = % X, want % X", buf, want)
	}
	got, n, err := ParseConnHeader(buf)
	if err != nil {
		t.Fatalf("ParseConnHeader: %v", err)
	}
	if n != 4 || got != h {
		t.Errorf("round trip = %+v, want %+v", got, h)
	}
}

func TestRoutingBusyRoundTrip(t *testing.T) {
	r := RoutingBusy{DeviceState: 0x01, WaitTimeMS: 50, ControlField: 0x0000}
	buf := r.Build()
	want := []byte{0x06, 0x01, 0x00, 0x32, 0x00, 0x00}
	if !bytesEqual(buf, want) {
		t.Fatalf("Build() = % X, want % X", buf, want)
	}
	got, err := ParseRoutingBusy(buf)
	if err != nil {
		t.Fatalf("ParseRoutingBusy: %v", err)
	}
	if got != r {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
