package dpt

import "fmt"

func init() {
	register(Entry{Tag: Tag(10, 1), Name: "time of day", Length: 3, Encode: encodeDPT10, Decode: decodeDPT10})
	register(Entry{Tag: Tag(11, 1), Name: "date", Length: 3, Encode: encodeDPT11, Decode: decodeDPT11})
}

// TimeOfDay is the DPT 10.001 value shape. Day follows the KNX convention
// of 0 = "no day", 1 = Monday ... 7 = Sunday.
type TimeOfDay struct {
	Day            uint8
	Hour           uint8
	Minute         uint8
	Second         uint8
}

func encodeDPT10(value any) ([]byte, error) {
	v, ok := value.(TimeOfDay)
	if !ok {
		return nil, fmt.Errorf("%w: DPT10.001 expects TimeOfDay, got %T", ErrInvalidValue, value)
	}
	if v.Day > 7 || v.Hour > 23 || v.Minute > 59 || v.Second > 59 {
		return nil, fmt.Errorf("%w: DPT10.001 value out of range: %+v", ErrInvalidValue, v)
	}
	return []byte{
		(v.Day << 5) | v.Hour,
		v.Minute & 0x3F,
		v.Second & 0x3F,
	}, nil
}

func decodeDPT10(data []byte) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: DPT10.001 requires 3 bytes, got %d", ErrInvalidPayload, len(data))
	}
	return TimeOfDay{
		Day:    data[0] >> 5,
		Hour:   data[0] & 0x1F,
		Minute: data[1] & 0x3F,
		Second: data[2] & 0x3F,
	}, nil
}

// Date is the DPT 11.001 value shape. Year is the full 4-digit calendar
// year (e.g. 1999), restricted to 1990-2089 per the wire format's
// century-pivot rule: wire years 90-99 map to 1990-1999, 00-89 to
// 2000-2089.
type Date struct {
	Day   uint8
	Month uint8
	Year  int
}

func encodeDPT11(value any) ([]byte, error) {
	v, ok := value.(Date)
	if !ok {
		return nil, fmt.Errorf("%w: DPT11.001 expects Date, got %T", ErrInvalidValue, value)
	}
	if v.Day < 1 || v.Day > 31 || v.Month < 1 || v.Month > 12 || v.Year < 1990 || v.Year > 2089 {
		return nil, fmt.Errorf("%w: DPT11.001 value out of range: %+v", ErrInvalidValue, v)
	}
	wireYear := v.Year % 100
	return []byte{v.Day & 0x1F, v.Month & 0x0F, byte(wireYear) & 0x7F}, nil
}

func decodeDPT11(data []byte) (any, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("%w: DPT11.001 requires 3 bytes, got %d", ErrInvalidPayload, len(data))
	}
	y := int(data[2] & 0x7F)
	year := 2000 + y
	if y >= 90 {
		year = 1900 + y
	}
	return Date{Day: data[0] & 0x1F, Month: data[1] & 0x0F, Year: year}, nil
}
