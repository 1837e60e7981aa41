package types

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatTimecode renders seconds as "H:MM:SS" when the value reaches an
// hour, otherwise as "M:SS". Fractional seconds are truncated.
func FormatTimecode(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseTimecode accepts "H:MM:SS", "HH:MM:SS", "M:SS", or a bare seconds
// value and returns the number of seconds it denotes.
func ParseTimecode(tc string) (float64, error) {
	tc = strings.TrimSpace(tc)
	if tc == "" {
		return 0, fmt.Errorf("types: empty timecode")
	}
	parts := strings.Split(tc, ":")
	switch len(parts) {
	case 1:
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return 0, fmt.Errorf("types: parse timecode %q: %w", tc, err)
		}
		return v, nil
	case 2:
		m, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("types: parse timecode %q: %w", tc, err)
		}
		s, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, fmt.Errorf("types: parse timecode %q: %w", tc, err)
		}
		return float64(m*60) + s, nil
	case 3:
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("types: parse timecode %q: %w", tc, err)
		}
		m, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("types: parse timecode %q: %w", tc, err)
		}
		s, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return 0, fmt.Errorf("types: parse timecode %q: %w", tc, err)
		}
		return float64(h*3600+m*60) + s, nil
	default:
		return 0, fmt.Errorf("types: malformed timecode %q", tc)
	}
}
