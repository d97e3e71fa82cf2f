package dpt

import "fmt"

func init() {
	register(Entry{Tag: Tag(232, 600), Name: "RGB colour", Length: 3, Encode: encodeDPT232, Decode: decodeDPT232})
	register(Entry{Tag: Tag(251, 600), Name: "RGBW colour + validity", Length: 6, Encode: encodeDPT251, Decode: decodeDPT251})
}

// RGB is the DPT 232.600 value shape: one byte per channel, no validity
// flags.
type RGB struct {
	R, G, B uint8
}

func encodeDPT232(value any) ([]byte, error) {
	v, ok := value.(RGB)
	if !ok {
		return nil, fmt.Errorf("%w: DPT232.600 expects RGB, got %T", ErrInvalidValue, value)
	}
	return []byte{v.R, v.G, v.B}, nil
}

func decodeDPT232(data []byte) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: DPT232.600 requires 3 bytes, got %d", ErrInvalidPayload, len(data))
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}

// RGBW is the DPT 251.600 value shape: four channel bytes, a reserved
// byte, and a validity byte whose low 4 bits flag which of R/G/B/W
// (bits 3/2/1/0) actually carry a value.
type RGBW struct {
	R, G, B, W   uint8
	RValid       bool
	GValid       bool
	BValid       bool
	WValid       bool
}

func encodeDPT251(value any) ([]byte, error) {
	v, ok := value.(RGBW)
	if !ok {
		return nil, fmt.Errorf("%w: DPT251.600 expects RGBW, got %T", ErrInvalidValue, value)
	}
	var valid byte
	if v.RValid {
		valid |= 0x08
	}
	if v.GValid {
		valid |= 0x04
	}
	if v.BValid {
		valid |= 0x02
	}
	if v.WValid {
		valid |= 0x01
	}
	return []byte{v.R, v.G, v.B, v.W, 0x00, valid}, nil
}

func decodeDPT251(data []byte) (any, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("%w: DPT251.600 requires 6 bytes, got %d", ErrInvalidPayload, len(data))
	}
	valid := data[5]
	return RGBW{
		R: data[0], G: data[1], B: data[2], W: data[3],
		RValid: valid&0x08 != 0,
		GValid: valid&0x04 != 0,
		BValid: valid&0x02 != 0,
		WValid: valid&0x01 != 0,
	}, nil
}
