// Package cemi implements the Common External Message Interface frame
// format (both the cEMI and EMI2 message-code columns) used to carry KNX
// L_Data primitives over KNXnet/IP and serial transports.
//
// A frame is a tagged union keyed by its one-octet Message Code; this
// package never models services as a type hierarchy, it matches on the
// code and dispatches to the one shared layout below:
//
//	[MC][AddInfoLen][AddInfo...][CTRL1][CTRL2][Src:2][Dst:2][Len][TPDU...]
package cemi

import (
	"fmt"

	"github.com/nerrad567/knx-gateway/internal/knx/ctrlfield"
)

// MessageCode identifies a cEMI or EMI2 service.
type MessageCode uint8

// cEMI message codes (Common EMI Standard Frame).
const (
	LDataReq   MessageCode = 0x11
	LDataCon   MessageCode = 0x2E
	LDataInd   MessageCode = 0x29
	LBusmonInd MessageCode = 0x2B
)

// EMI2 message codes. L_Data.req is shared with the cEMI column; con/ind
// use a distinct pair of codes.
const (
	EMI2LDataCon MessageCode = 0x4E
	EMI2LDataInd MessageCode = 0x49
)

// serviceNames is the registry of known message codes, used to validate
// incoming frames and to render a human-readable name for logging. A code
// absent from this map is rejected by Parse with ErrUnknownMessageCode.
var serviceNames = map[MessageCode]string{
	LDataReq:     "L_Data.req",
	LDataCon:     "L_Data.con",
	LDataInd:     "L_Data.ind",
	LBusmonInd:   "L_Busmon.ind",
	EMI2LDataCon: "L_Data.con (EMI2)",
	EMI2LDataInd: "L_Data.ind (EMI2)",
}

// String renders the registered service name, or a hex fallback.
func (mc MessageCode) String() string {
	if name, ok := serviceNames[mc]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", uint8(mc))
}

// AddInfoTypeID identifies an Additional Information block.
type AddInfoTypeID uint8

// Known Additional Information TypeIDs. Blocks whose TypeID isn't listed
// here are still parsed and retained verbatim (see AddInfo.Data) so they
// can round-trip through a frame that doesn't understand them.
const (
	AddInfoPLMediumInfo          AddInfoTypeID = 0x01
	AddInfoRFMediumInfo          AddInfoTypeID = 0x02
	AddInfoBusmonitorStatus      AddInfoTypeID = 0x03
	AddInfoTimestampRelative     AddInfoTypeID = 0x04
	AddInfoTimeDelayUntilSending AddInfoTypeID = 0x05
	AddInfoExtRelativeTimestamp  AddInfoTypeID = 0x06
	AddInfoBiBat                 AddInfoTypeID = 0x07
	AddInfoRFMulti               AddInfoTypeID = 0x08
	AddInfoPreamblePostamble     AddInfoTypeID = 0x09
	AddInfoRFFastACK             AddInfoTypeID = 0x0A
	AddInfoManufacturerSpecific  AddInfoTypeID = 0xFE
)

// AddInfo is one entry in a cEMI frame's Additional Information chain.
type AddInfo struct {
	TypeID AddInfoTypeID
	Data   []byte
}

// Frame is a parsed cEMI/EMI2 L_Data service message.
type Frame struct {
	MessageCode MessageCode
	AddInfo     []AddInfo
	Ctrl1       ctrlfield.Standard
	Ctrl2       ctrlfield.Extended
	// Src and Dst are raw 16-bit address values; see the address package
	// for parsing/formatting. Dst's address type is Ctrl2.AddressType.
	Src uint16
	Dst uint16
	// TPDU is the raw transport-layer PDU (TPCI+APCI+data); see the apdu
	// package to decompose it further.
	TPDU []byte
}

// Parse decodes a cEMI/EMI2 buffer per the Common EMI Standard Frame
// layout. The message code must be present in the service registry.
func Parse(buf []byte) (Frame, error) {
	if len(buf) < 2 {
		return Frame{}, fmt.Errorf("%w: buffer too short (%d bytes)", ErrBadFrame, len(buf))
	}

	mc := MessageCode(buf[0])
	if _, ok := serviceNames[mc]; !ok {
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownMessageCode, uint8(mc))
	}

	addInfoLen := int(buf[1])
	if len(buf) < 2+addInfoLen {
		return Frame{}, fmt.Errorf("%w: additional info length %d exceeds buffer", ErrBadFrame, addInfoLen)
	}
	addInfo, err := parseAddInfo(buf[2 : 2+addInfoLen])
	if err != nil {
		return Frame{}, err
	}

	rest := buf[2+addInfoLen:]
	if len(rest) < 7 {
		return Frame{}, fmt.Errorf("%w: header truncated after additional info", ErrBadFrame)
	}

	ctrl1 := ctrlfield.DecodeStandard(rest[0])
	ctrl2 := ctrlfield.DecodeExtended(rest[1])
	src := uint16(rest[2])<<8 | uint16(rest[3])
	dst := uint16(rest[4])<<8 | uint16(rest[5])
	// The length octet counts the TPDU octets after the first (TPCI) one.
	tpduLen := int(rest[6]) + 1

	if len(rest) < 7+tpduLen {
		return Frame{}, fmt.Errorf("%w: TPDU length %d exceeds buffer", ErrBadFrame, tpduLen)
	}
	tpdu := make([]byte, tpduLen)
	copy(tpdu, rest[7:7+tpduLen])

	return Frame{
		MessageCode: mc,
		AddInfo:     addInfo,
		Ctrl1:       ctrl1,
		Ctrl2:       ctrl2,
		Src:         src,
		Dst:         dst,
		TPDU:        tpdu,
	}, nil
}

// parseAddInfo walks a chain of [TypeID][Len][Data...] entries.
func parseAddInfo(buf []byte) ([]AddInfo, error) {
	var blocks []AddInfo
	for len(buf) > 0 {
		if len(buf) < 2 {
			return nil, fmt.Errorf("%w: truncated additional info block header", ErrBadFrame)
		}
		typeID := AddInfoTypeID(buf[0])
		blockLen := int(buf[1])
		if len(buf) < 2+blockLen {
			return nil, fmt.Errorf("%w: additional info block length %d exceeds remaining chain", ErrBadFrame, blockLen)
		}
		data := make([]byte, blockLen)
		copy(data, buf[2:2+blockLen])
		blocks = append(blocks, AddInfo{TypeID: typeID, Data: data})
		buf = buf[2+blockLen:]
	}
	return blocks, nil
}

// Build assembles the frame back into its wire form. It is the exact
// inverse of Parse: parsing the result of Build reproduces the original
// Frame field for field.
func (f Frame) Build() ([]byte, error) {
	addInfo, err := buildAddInfo(f.AddInfo)
	if err != nil {
		return nil, err
	}
	if len(f.TPDU) == 0 || len(f.TPDU) > 0x100 {
		return nil, fmt.Errorf("%w: TPDU length %d not encodable in the length octet", ErrBadFrame, len(f.TPDU))
	}

	ctrl2Byte, err := f.Ctrl2.Encode()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 9+len(addInfo)+len(f.TPDU))
	buf = append(buf, byte(f.MessageCode), byte(len(addInfo)))
	buf = append(buf, addInfo...)
	buf = append(buf, f.Ctrl1.Encode(), ctrl2Byte)
	buf = append(buf, byte(f.Src>>8), byte(f.Src))
	buf = append(buf, byte(f.Dst>>8), byte(f.Dst))
	buf = append(buf, byte(len(f.TPDU)-1))
	buf = append(buf, f.TPDU...)
	return buf, nil
}

func buildAddInfo(blocks []AddInfo) ([]byte, error) {
	var buf []byte
	for _, b := range blocks {
		if len(b.Data) > 0xFF {
			return nil, fmt.Errorf("%w: additional info block too long (%d bytes)", ErrBadFrame, len(b.Data))
		}
		buf = append(buf, byte(b.TypeID), byte(len(b.Data)))
		buf = append(buf, b.Data...)
	}
	return buf, nil
}

// DstSeparator returns the separator ('/' for group, '.' for individual)
// that a textual rendering of Dst should use, per Ctrl2's address type.
func (f Frame) DstSeparator() rune {
	if f.Ctrl2.IsGroupDestination() {
		return '/'
	}
	return '.'
}

// FCS computes the Frame Check Sequence used when framing a TP1 telegram
// for a serial medium: bytewise XOR of every octet, then one's complement.
func FCS(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x ^ 0xFF
}

// VerifyFCS reports whether fcs is the correct Frame Check Sequence for
// data.
func VerifyFCS(data []byte, fcs byte) bool {
	return FCS(data) == fcs
}
