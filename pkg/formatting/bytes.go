// Package formatting provides parsing helpers for configuration values and
// reasoning service output.
package formatting

import (
	"fmt"
	"strconv"
	"strings"
)

// multipliers are base-1024. The IEC spellings (KiB, MiB) are accepted as
// aliases of the short ones.
var multipliers = map[string]float64{
	"":    1,
	"B":   1,
	"K":   1 << 10,
	"KB":  1 << 10,
	"KIB": 1 << 10,
	"M":   1 << 20,
	"MB":  1 << 20,
	"MIB": 1 << 20,
	"G":   1 << 30,
	"GB":  1 << 30,
	"GIB": 1 << 30,
	"T":   1 << 40,
	"TB":  1 << 40,
	"TIB": 1 << 40,
}

// ParseBytes parses a size such as "20MB" into a byte count. A bare number
// is treated as bytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size string")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	if split == -1 {
		split = len(s)
	}

	num, unit := s[:split], strings.ToUpper(strings.TrimSpace(s[split:]))
	if num == "" {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size number: %w", err)
	}

	mult, ok := multipliers[unit]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", unit)
	}
	return int64(value * mult), nil
}
