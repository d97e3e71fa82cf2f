package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/knx-gateway/internal/knx/dpt"
)

// parseDPTTag converts a "major.minor" string (e.g. "9.001") into the
// registry's numeric tag (dpt.Tag(major, minor)).
func parseDPTTag(s string) (int, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		return 0, fmt.Errorf("dpt %q: expected major.minor form", s)
	}
	majorN, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("dpt %q: invalid major: %w", s, err)
	}
	minorN, err := strconv.Atoi(minor)
	if err != nil {
		return 0, fmt.Errorf("dpt %q: invalid minor: %w", s, err)
	}
	return dpt.Tag(majorN, minorN), nil
}

// numericValue converts a decoded DPT value to a float64 for timeseries
// storage, when the underlying type supports it. ok is false for value
// shapes (strings, structs, enumerations) with no natural numeric form.
func numericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
