// Package ctrlfield implements the one-octet standard and extended Control
// Fields carried in every cEMI frame.
//
// Each field is a single authoritative bit layout: setters clear only the
// bits they own before OR-ing in the new value, so reading a field back
// from a byte never mutates bits the caller didn't ask to change.
package ctrlfield

import "fmt"

// Priority is the 2-bit KNX transmission priority.
type Priority uint8

// Priority values, ordered per the KNX specification bit pattern.
const (
	PrioritySystem Priority = 0
	PriorityNormal Priority = 1
	PriorityUrgent Priority = 2
	PriorityLow    Priority = 3
)

// String renders a human-readable priority name for logging.
func (p Priority) String() string {
	switch p {
	case PrioritySystem:
		return "system"
	case PriorityNormal:
		return "normal"
	case PriorityUrgent:
		return "urgent"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Bit positions within the standard control field octet.
const (
	bitFrameType     = 7
	bitReserved      = 6
	bitRepeat        = 5
	bitSystemBcast   = 4
	bitPriorityShift = 2
	maskPriority     = 0x03
	bitAckRequest    = 1
	bitConfirmError  = 0
)

// Standard is the one-octet standard Control Field (CTRL1).
//
// Repeat and SystemBroadcast are wire-inverted from what their names
// suggest: KNX encodes "not a repetition" as Repeat=true and "ordinary
// domain broadcast" as SystemBroadcast=true. A first-time, non-system-
// broadcast send — the common case for every outbound group telegram —
// therefore sets both to true, not the Go zero value of false. Use
// NewStandard to build that default rather than a bare struct literal.
type Standard struct {
	// StandardFrame is true for a standard frame, false for extended.
	StandardFrame bool
	// Repeat is true when this frame has NOT been repeated, i.e. it is the
	// first (so far only) transmission attempt. False marks a retransmission.
	Repeat bool
	// SystemBroadcast is true for an ordinary domain broadcast (the normal
	// case for a group send), false for a system broadcast.
	SystemBroadcast bool
	Priority        Priority
	// AckRequest requests an L2 acknowledgement.
	AckRequest bool
	// ConfirmError is true when a prior send was not acknowledged/errored.
	ConfirmError bool
	// reserved holds bit 6, which has no defined meaning, so that a decoded
	// octet encodes back unchanged.
	reserved bool
}

// NewStandard returns the Standard control field for an ordinary,
// first-transmission, non-system-broadcast send at the given priority —
// the default every outbound L_Data.req should start from. For example,
// NewStandard(PriorityLow) encodes to 0xBC, the documented CTRL1 byte for a
// once-only, low-priority group write.
func NewStandard(priority Priority) Standard {
	return Standard{
		StandardFrame:   true,
		Repeat:          true,
		SystemBroadcast: true,
		Priority:        priority,
	}
}

// DecodeStandard reads a Standard control field from its wire octet.
// Every bit round-trips: DecodeStandard(b).Encode() == b for every b,
// including the unused bit 6, which is kept in an unexported field.
func DecodeStandard(b byte) Standard {
	return Standard{
		StandardFrame:   b&(1<<bitFrameType) != 0,
		reserved:        b&(1<<bitReserved) != 0,
		Repeat:          b&(1<<bitRepeat) != 0,
		SystemBroadcast: b&(1<<bitSystemBcast) != 0,
		Priority:        Priority((b >> bitPriorityShift) & maskPriority),
		AckRequest:      b&(1<<bitAckRequest) != 0,
		ConfirmError:    b&(1<<bitConfirmError) != 0,
	}
}

// Encode packs the Standard control field into its wire octet.
func (s Standard) Encode() byte {
	var b byte
	if s.StandardFrame {
		b |= 1 << bitFrameType
	}
	if s.reserved {
		b |= 1 << bitReserved
	}
	if s.Repeat {
		b |= 1 << bitRepeat
	}
	if s.SystemBroadcast {
		b |= 1 << bitSystemBcast
	}
	b |= byte(s.Priority&maskPriority) << bitPriorityShift
	if s.AckRequest {
		b |= 1 << bitAckRequest
	}
	if s.ConfirmError {
		b |= 1 << bitConfirmError
	}
	return b
}

// String renders a human-readable description for logging.
func (s Standard) String() string {
	return fmt.Sprintf("CTRL1{frame=%s repeat=%v sysBcast=%v prio=%s ack=%v confirmErr=%v}",
		frameTypeName(s.StandardFrame), s.Repeat, s.SystemBroadcast, s.Priority, s.AckRequest, s.ConfirmError)
}

func frameTypeName(standard bool) string {
	if standard {
		return "standard"
	}
	return "extended"
}

// Bit positions within the extended control field octet (CTRL2).
const (
	bitAddressType   = 7
	hopCountShift    = 4
	maskHopCount     = 0x07
	maskFrameFormat  = 0x0F
	maxHopCount      = 7
	maxExtFrameForm  = 15
)

// ExtAddressType distinguishes individual vs group destination addresses,
// carried in bit 7 of the extended control field.
type ExtAddressType uint8

// Address type values for the extended control field.
const (
	AddrIndividual ExtAddressType = 0
	AddrGroup      ExtAddressType = 1
)

// Extended is the one-octet extended Control Field (CTRL2).
type Extended struct {
	AddressType ExtAddressType
	// HopCount is the remaining router hop budget (0-7), default 6.
	HopCount uint8
	// ExtendedFrameFormat is a 4-bit format selector (0-15).
	ExtendedFrameFormat uint8
}

// DecodeExtended reads an Extended control field from its wire octet.
func DecodeExtended(b byte) Extended {
	return Extended{
		AddressType:         ExtAddressType((b >> bitAddressType) & 0x01),
		HopCount:            (b >> hopCountShift) & maskHopCount,
		ExtendedFrameFormat: b & maskFrameFormat,
	}
}

// Encode packs the Extended control field into its wire octet.
func (e Extended) Encode() (byte, error) {
	if e.HopCount > maxHopCount {
		return 0, fmt.Errorf("%w: hop count must be 0-%d, got %d", ErrOutOfRange, maxHopCount, e.HopCount)
	}
	if e.ExtendedFrameFormat > maxExtFrameForm {
		return 0, fmt.Errorf("%w: extended frame format must be 0-%d, got %d", ErrOutOfRange, maxExtFrameForm, e.ExtendedFrameFormat)
	}

	var b byte
	b |= byte(e.AddressType&0x01) << bitAddressType
	b |= (e.HopCount & maskHopCount) << hopCountShift
	b |= e.ExtendedFrameFormat & maskFrameFormat
	return b, nil
}

// IsGroupDestination reports whether this control field marks the frame's
// destination address as a group address. This is the canonical source of
// the address-type hint consumed by the address package's decode helpers.
func (e Extended) IsGroupDestination() bool {
	return e.AddressType == AddrGroup
}

// String renders a human-readable description for logging.
func (e Extended) String() string {
	addrType := "individual"
	if e.AddressType == AddrGroup {
		addrType = "group"
	}
	return fmt.Sprintf("CTRL2{addrType=%s hopCount=%d extFrameFormat=%d}", addrType, e.HopCount, e.ExtendedFrameFormat)
}
