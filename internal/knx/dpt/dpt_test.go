package dpt

import (
	"errors"
	"math"
	"testing"
)

func TestLookupUnknownTagFails(t *testing.T) {
	if _, err := Lookup(4001); !errors.Is(err, ErrDptNotFound) {
		t.Errorf("Lookup(4001) error = %v, want ErrDptNotFound", err)
	}
}

func TestLookupFallsBackToMajor(t *testing.T) {
	e, err := Lookup(Tag(9, 7)) // 9.007 (humidity) isn't separately registered
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if e.Tag != 9 {
		t.Errorf("fallback entry Tag = %d, want 9", e.Tag)
	}
}

func TestDPT1RoundTrip(t *testing.T) {
	for _, v := range []bool{true, false} {
		buf, err := Encode(1, v)
		if err != nil {
			t.Fatalf("Encode(%v): %v", v, err)
		}
		got, err := Decode(1, buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != v {
			t.Errorf("round trip = %v, want %v", got, v)
		}
	}
}

func TestDPT1WriteVector(t *testing.T) {
	buf, err := Encode(1, true)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != 1 || buf[0] != 0x01 {
		t.Fatalf("Encode(true) = % X, want [01]", buf)
	}
}

func TestDPT5PercentVector(t *testing.T) {
	buf, err := Encode(Tag(5, 1), 50.0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != 1 || buf[0] != 0x80 {
		t.Fatalf("Encode(50%%) = % X, want [80]", buf)
	}
	got, err := Decode(Tag(5, 1), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	pct := got.(float64)
	if math.Abs(pct-50.0) > 100.0/255.0 {
		t.Errorf("round trip = %v, want ~50 (within DPT5.001 resolution)", pct)
	}
}

func TestDPT9EncodeVectors(t *testing.T) {
	cases := []struct {
		value float64
		want  []byte
	}{
		{-1.0, []byte{0x87, 0x9C}},
		{0.0, []byte{0x00, 0x00}},
	}
	for _, tc := range cases {
		buf, err := Encode(9, tc.value)
		if err != nil {
			t.Fatalf("Encode(%v): %v", tc.value, err)
		}
		if !bytesEqual(buf, tc.want) {
			t.Errorf("Encode(%v) = % X, want % X", tc.value, buf, tc.want)
		}
		got, err := Decode(9, buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if math.Abs(got.(float64)-tc.value) > 0.005 {
			t.Errorf("round trip = %v, want %v", got, tc.value)
		}
	}
}

func TestDPT9InvalidMarker(t *testing.T) {
	if _, err := Decode(9, []byte{0x7F, 0xFF}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Decode(0x7FFF) error = %v, want ErrInvalidPayload", err)
	}
}

func TestDPT9RoundTripSweep(t *testing.T) {
	for _, v := range []float64{-273.0, -10.5, 0.0, 0.01, 21.5, 100.0, 670760.0} {
		buf, err := Encode(9, v)
		if err != nil {
			t.Fatalf("Encode(%v): %v", v, err)
		}
		got, err := Decode(9, buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		// Resolution bound per the KNX 2-byte float: 0.01 at exponent 0,
		// coarser at higher exponents; allow generously for the sweep.
		if math.Abs(got.(float64)-v) > math.Max(0.02, math.Abs(v)*0.005) {
			t.Errorf("round trip(%v) = %v", v, got)
		}
	}
}

func TestDPT11DateVector(t *testing.T) {
	// The day occupies only the low 5 bits of octet 0 per the registry's
	// documented bit layout, so day=31 encodes octet 0 as 0x1F.
	buf, err := Encode(Tag(11, 1), Date{Day: 31, Month: 12, Year: 1999})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0x1F, 0x0C, 0x63}
	if !bytesEqual(buf, want) {
		t.Fatalf("Encode(1999-12-31) = % X, want % X", buf, want)
	}
	got, err := Decode(Tag(11, 1), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d := got.(Date)
	if d.Day != 31 || d.Month != 12 || d.Year != 1999 {
		t.Errorf("round trip = %+v, want {31 12 1999}", d)
	}
}

func TestDPT11CenturyPivot(t *testing.T) {
	buf, _ := Encode(Tag(11, 1), Date{Day: 1, Month: 1, Year: 2042})
	got, err := Decode(Tag(11, 1), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.(Date).Year != 2042 {
		t.Errorf("Year = %d, want 2042", got.(Date).Year)
	}
}

func TestDPT20RoundTripAndReserved(t *testing.T) {
	buf, err := Encode(Tag(20, 102), "Comfort")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(Tag(20, 102), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev := got.(EnumValue)
	if ev.Label != "Comfort" || ev.Raw != 1 {
		t.Errorf("decode = %+v, want {1 Comfort}", ev)
	}

	reserved, err := Decode(Tag(20, 102), []byte{0xFA})
	if err != nil {
		t.Fatalf("Decode(reserved): %v", err)
	}
	rv := reserved.(EnumValue)
	if rv.Label != "reserved" || rv.Raw != 0xFA {
		t.Errorf("decode(reserved) = %+v, want raw preserved with label reserved", rv)
	}
	reencoded, err := Encode(Tag(20, 102), rv)
	if err != nil {
		t.Fatalf("Encode(reserved round trip): %v", err)
	}
	if reencoded[0] != 0xFA {
		t.Errorf("re-encoded reserved value = 0x%02X, want 0xFA", reencoded[0])
	}
}

func TestDPT232RGBRoundTrip(t *testing.T) {
	buf, err := Encode(Tag(232, 600), RGB{R: 10, G: 20, B: 30})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(Tag(232, 600), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != (RGB{R: 10, G: 20, B: 30}) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestDPT251RGBWRoundTrip(t *testing.T) {
	v := RGBW{R: 1, G: 2, B: 3, W: 4, RValid: true, WValid: true}
	buf, err := Encode(Tag(251, 600), v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(Tag(251, 600), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != v {
		t.Errorf("round trip = %+v, want %+v", got, v)
	}
}

func TestDPT16StringRoundTrip(t *testing.T) {
	buf, err := Encode(16, "hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(buf) != dpt16Length {
		t.Fatalf("Encode length = %d, want %d", len(buf), dpt16Length)
	}
	got, err := Decode(16, buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "hello" {
		t.Errorf("round trip = %q, want hello", got)
	}
}

func TestDPT16RejectsNonASCII(t *testing.T) {
	if _, err := Encode(16, string([]byte{0xFF})); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Encode non-ASCII error = %v, want ErrInvalidValue", err)
	}
}

func TestDPT28UTF8RoundTrip(t *testing.T) {
	buf, err := Encode(Tag(28, 1), "café")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if buf[len(buf)-1] != 0x00 {
		t.Fatalf("expected NUL terminator, got % X", buf)
	}
	got, err := Decode(Tag(28, 1), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "café" {
		t.Errorf("round trip = %q, want café", got)
	}
}

func TestDPT6SignedRoundTrip(t *testing.T) {
	for _, v := range []int{-128, -1, 0, 1, 127} {
		buf, err := Encode(6, v)
		if err != nil {
			t.Fatalf("Encode(%d): %v", v, err)
		}
		got, err := Decode(6, buf)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if int(got.(int8)) != v {
			t.Errorf("round trip(%d) = %v", v, got)
		}
	}
}

func TestDPT3StepControlRoundTrip(t *testing.T) {
	v := StepControl{Control: true, StepCode: 5}
	buf, err := Encode(Tag(3, 7), v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(Tag(3, 7), buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != v {
		t.Errorf("round trip = %+v, want %+v", got, v)
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
