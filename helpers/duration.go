package helpers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ParseDuration parses a duration string, extending the standard library
// syntax with day ("d") and week ("w") units, which are common in mail
// server configuration ("14d" grace periods, "7d" duplicate expiry).
// Units may be combined: "1w2d12h".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	// Fast path: no day/week units, defer to the standard parser.
	if !strings.ContainsAny(s, "dw") {
		return time.ParseDuration(s)
	}

	var total time.Duration
	rest := s
	for rest != "" {
		i := 0
		for i < len(rest) && (unicode.IsDigit(rune(rest[i])) || rest[i] == '.' || rest[i] == '-' || rest[i] == '+') {
			i++
		}
		if i == 0 || i == len(rest) {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		value, err := strconv.ParseFloat(rest[:i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %v", s, err)
		}

		switch rest[i] {
		case 'd':
			total += time.Duration(value * float64(24*time.Hour))
			rest = rest[i+1:]
		case 'w':
			total += time.Duration(value * float64(7*24*time.Hour))
			rest = rest[i+1:]
		default:
			// Remainder uses standard units; hand the rest to the stdlib.
			d, err := time.ParseDuration(rest)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %v", s, err)
			}
			return total + d, nil
		}
	}
	return total, nil
}
