// Package knxip implements the KNXnet/IP packet envelope: the 6-octet
// header, the Host Protocol Address Information (HPAI) structure, and the
// Connect Request/Response Information blocks, shared by both the
// tunneling and routing clients.
package knxip

import (
	"encoding/binary"
	"fmt"
	"net"
)

// headerConstant bytes that open every KNXnet/IP packet.
const (
	headerLen      = 6
	protocolVer1   = 0x10
	headerSizeByte = 0x06
)

// ServiceType is the 16-bit KNXnet/IP service identifier.
type ServiceType uint16

// Service types used by the tunneling and routing clients.
const (
	ConnectRequest            ServiceType = 0x0205
	ConnectResponse           ServiceType = 0x0206
	ConnectionStateRequest    ServiceType = 0x0207
	ConnectionStateResponse   ServiceType = 0x0208
	DisconnectRequest         ServiceType = 0x0209
	DisconnectResponse        ServiceType = 0x020A
	TunnellingRequest         ServiceType = 0x0420
	TunnellingAck             ServiceType = 0x0421
	RoutingIndication         ServiceType = 0x0530
	RoutingLostMessage        ServiceType = 0x0531
	RoutingBusyService        ServiceType = 0x0532
)

var serviceNames = map[ServiceType]string{
	ConnectRequest:          "CONNECT_REQUEST",
	ConnectResponse:         "CONNECT_RESPONSE",
	ConnectionStateRequest:  "CONNECTIONSTATE_REQUEST",
	ConnectionStateResponse: "CONNECTIONSTATE_RESPONSE",
	DisconnectRequest:       "DISCONNECT_REQUEST",
	DisconnectResponse:      "DISCONNECT_RESPONSE",
	TunnellingRequest:       "TUNNELLING_REQUEST",
	TunnellingAck:           "TUNNELLING_ACK",
	RoutingIndication:       "ROUTING_INDICATION",
	RoutingLostMessage:      "ROUTING_LOST_MESSAGE",
	RoutingBusyService:      "ROUTING_BUSY",
}

// String renders the registered service name, or a hex fallback.
func (s ServiceType) String() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%04X", uint16(s))
}

// Packet is a parsed KNXnet/IP frame: header plus opaque body. Callers
// decode the body further (HPAI/CRI/cEMI/...) based on ServiceType.
type Packet struct {
	ServiceType ServiceType
	Body        []byte
}

// Build concatenates the 6-octet header with body, setting TotalLength =
// 6 + len(body).
func Build(serviceType ServiceType, body []byte) []byte {
	buf := make([]byte, headerLen+len(body))
	buf[0] = headerSizeByte
	buf[1] = protocolVer1
	binary.BigEndian.PutUint16(buf[2:4], uint16(serviceType))
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	copy(buf[headerLen:], body)
	return buf
}

// Parse validates the header constants and TotalLength, and splits off the
// body.
func Parse(buf []byte) (Packet, error) {
	if len(buf) < headerLen {
		return Packet{}, fmt.Errorf("%w: packet shorter than header (%d bytes)", ErrBadFrame, len(buf))
	}
	if buf[0] != headerSizeByte || buf[1] != protocolVer1 {
		return Packet{}, fmt.Errorf("%w: bad header constant % X", ErrBadFrame, buf[:2])
	}
	serviceType := ServiceType(binary.BigEndian.Uint16(buf[2:4]))
	totalLength := int(binary.BigEndian.Uint16(buf[4:6]))
	if totalLength != len(buf) {
		return Packet{}, fmt.Errorf("%w: TotalLength %d doesn't match buffer length %d", ErrBadFrame, totalLength, len(buf))
	}
	return Packet{ServiceType: serviceType, Body: buf[headerLen:]}, nil
}

// HPAIProtocol selects the transport protocol carried by an HPAI.
type HPAIProtocol uint8

// HPAI protocol identifiers.
const (
	ProtocolUDP4 HPAIProtocol = 0x01
	ProtocolTCP4 HPAIProtocol = 0x02
)

const hpaiLen = 8

// HPAI is the Host Protocol Address Information structure: an IPv4
// endpoint plus the transport protocol used to reach it.
type HPAI struct {
	Protocol HPAIProtocol
	Addr     net.IP // 4-byte IPv4
	Port     uint16
}

// Build encodes the HPAI into its 8-octet wire form.
func (h HPAI) Build() []byte {
	buf := make([]byte, hpaiLen)
	buf[0] = hpaiLen
	buf[1] = byte(h.Protocol)
	ip4 := h.Addr.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(buf[2:6], ip4)
	binary.BigEndian.PutUint16(buf[6:8], h.Port)
	return buf
}

// ParseHPAI decodes an 8-octet HPAI from the front of buf, returning the
// parsed structure and the number of bytes consumed.
func ParseHPAI(buf []byte) (HPAI, int, error) {
	if len(buf) < hpaiLen {
		return HPAI{}, 0, fmt.Errorf("%w: HPAI requires %d bytes, got %d", ErrBadFrame, hpaiLen, len(buf))
	}
	if buf[0] != hpaiLen {
		return HPAI{}, 0, fmt.Errorf("%w: HPAI length field = %d, want %d", ErrBadFrame, buf[0], hpaiLen)
	}
	ip := make(net.IP, 4)
	copy(ip, buf[2:6])
	return HPAI{
		Protocol: HPAIProtocol(buf[1]),
		Addr:     ip,
		Port:     binary.BigEndian.Uint16(buf[6:8]),
	}, hpaiLen, nil
}

// IsNull reports whether the HPAI's address and port fields are all zero.
func (h HPAI) IsNull() bool {
	ip4 := h.Addr.To4()
	return h.Port == 0 && (ip4 == nil || ip4.Equal(net.IPv4zero))
}

// ConnectionType selects the KNXnet/IP connection purpose in a CRI.
type ConnectionType uint8

// Connection types.
const (
	ConnTypeTunnel ConnectionType = 0x04
)

// TunnelLayer selects the KNX link layer exposed by a tunnel connection.
type TunnelLayer uint8

// Tunnel layers.
const (
	TunnelLinkLayer TunnelLayer = 0x02
)

const criLen = 4

// CRI is the Connect Request Information block.
type CRI struct {
	ConnType ConnectionType
	Layer    TunnelLayer
}

// Build encodes the CRI into its 4-octet wire form:
// [len=0x04][conn_type][layer][reserved=0x00].
func (c CRI) Build() []byte {
	return []byte{criLen, byte(c.ConnType), byte(c.Layer), 0x00}
}

// ParseCRI decodes a 4-octet CRI from the front of buf.
func ParseCRI(buf []byte) (CRI, int, error) {
	if len(buf) < criLen || buf[0] != criLen {
		return CRI{}, 0, fmt.Errorf("%w: malformed CRI", ErrBadFrame)
	}
	return CRI{ConnType: ConnectionType(buf[1]), Layer: TunnelLayer(buf[2])}, criLen, nil
}

// CRD is the Connect Response Data block returned by CONNECT_RESPONSE; for
// tunnel connections it carries the individual address assigned to this
// session.
type CRD struct {
	ConnType         ConnectionType
	AssignedAddress  uint16
}

// Build encodes the CRD into its 4-octet wire form:
// [len=0x04][conn_type][addr_hi][addr_lo].
func (c CRD) Build() []byte {
	return []byte{criLen, byte(c.ConnType), byte(c.AssignedAddress >> 8), byte(c.AssignedAddress)}
}

// ParseCRD decodes a 4-octet CRD from the front of buf.
func ParseCRD(buf []byte) (CRD, int, error) {
	if len(buf) < criLen || buf[0] != criLen {
		return CRD{}, 0, fmt.Errorf("%w: malformed CRD", ErrBadFrame)
	}
	return CRD{
		ConnType:        ConnectionType(buf[1]),
		AssignedAddress: uint16(buf[2])<<8 | uint16(buf[3]),
	}, criLen, nil
}

// ConnHeader is the 4-octet connection header prefixing the cEMI frame in
// a TUNNELLING_REQUEST/ACK body: [len=0x04][channel_id][seq][reserved=0].
type ConnHeader struct {
	ChannelID uint8
	Seq       uint8
}

const connHeaderLen = 4

// Build encodes the connection header.
func (h ConnHeader) Build() []byte {
	return []byte{connHeaderLen, h.ChannelID, h.Seq, 0x00}
}

// ParseConnHeader decodes a 4-octet connection header from the front of
// buf, returning the parsed header and the number of bytes consumed.
func ParseConnHeader(buf []byte) (ConnHeader, int, error) {
	if len(buf) < connHeaderLen || buf[0] != connHeaderLen {
		return ConnHeader{}, 0, fmt.Errorf("%w: malformed connection header", ErrBadFrame)
	}
	return ConnHeader{ChannelID: buf[1], Seq: buf[2]}, connHeaderLen, nil
}

// RoutingBusy is the body of a ROUTING_BUSY frame:
// [struct_len=0x06][device_state][wait_time:2 BE][control_field:2 BE].
type RoutingBusy struct {
	DeviceState  uint8
	WaitTimeMS   uint16
	ControlField uint16
}

const routingBusyLen = 6

// Build encodes the ROUTING_BUSY body.
func (r RoutingBusy) Build() []byte {
	buf := make([]byte, routingBusyLen)
	buf[0] = routingBusyLen
	buf[1] = r.DeviceState
	binary.BigEndian.PutUint16(buf[2:4], r.WaitTimeMS)
	binary.BigEndian.PutUint16(buf[4:6], r.ControlField)
	return buf
}

// ParseRoutingBusy decodes a ROUTING_BUSY body.
func ParseRoutingBusy(buf []byte) (RoutingBusy, error) {
	if len(buf) < routingBusyLen || buf[0] != routingBusyLen {
		return RoutingBusy{}, fmt.Errorf("%w: malformed ROUTING_BUSY body", ErrBadFrame)
	}
	return RoutingBusy{
		DeviceState:  buf[1],
		WaitTimeMS:   binary.BigEndian.Uint16(buf[2:4]),
		ControlField: binary.BigEndian.Uint16(buf[4:6]),
	}, nil
}
