package dpt

import "fmt"

// EnumValue is the DPT 20 value shape: a one-byte enumeration that always
// round-trips its raw wire value even when that value falls outside the
// minor tag's defined label table ("reserved").
type EnumValue struct {
	Raw   byte
	Label string
}

func init() {
	register(Entry{Tag: 20, Name: "8-bit enum (generic)", Length: 1, Encode: encodeEnumRaw, Decode: genericEnumDecoder()})
	registerEnum(102, "HVAC mode", map[byte]string{
		0: "Auto",
		1: "Comfort",
		2: "Standby",
		3: "Economy",
		4: "Building Protection",
	})
	registerEnum(105, "HVAC controller mode", map[byte]string{
		0: "Auto",
		1: "Heat",
		3: "Cool",
		6: "Off",
		9: "Fan Only",
	})
}

// registerEnum adds a DPT 20.<minor> entry whose labels come from table.
// Decoding a byte absent from table yields EnumValue{Label: "reserved"}
// rather than an error, per the canonical-enumeration round-trip rule.
func registerEnum(minor int, name string, table map[byte]string) {
	reverse := make(map[string]byte, len(table))
	for raw, label := range table {
		reverse[label] = raw
	}
	register(Entry{
		Tag:    Tag(20, minor),
		Name:   fmt.Sprintf("8-bit enum: %s", name),
		Length: 1,
		Encode: func(value any) ([]byte, error) { return encodeEnum(value, reverse) },
		Decode: func(data []byte) (any, error) { return decodeEnum(data, table) },
	})
}

func encodeEnum(value any, reverse map[string]byte) ([]byte, error) {
	switch v := value.(type) {
	case EnumValue:
		return []byte{v.Raw}, nil
	case string:
		raw, ok := reverse[v]
		if !ok {
			return nil, fmt.Errorf("%w: unknown enum label %q", ErrInvalidValue, v)
		}
		return []byte{raw}, nil
	case byte:
		return []byte{v}, nil
	default:
		return nil, fmt.Errorf("%w: DPT20 expects EnumValue, string or byte, got %T", ErrInvalidValue, value)
	}
}

func decodeEnum(data []byte, table map[byte]string) (any, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: DPT20 requires 1 byte, got %d", ErrInvalidPayload, len(data))
	}
	label, ok := table[data[0]]
	if !ok {
		label = "reserved"
	}
	return EnumValue{Raw: data[0], Label: label}, nil
}

func encodeEnumRaw(value any) ([]byte, error) {
	return encodeEnum(value, nil)
}

func genericEnumDecoder() func([]byte) (any, error) {
	return func(data []byte) (any, error) { return decodeEnum(data, nil) }
}
