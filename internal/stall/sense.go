package stall

import (
	"fmt"
	"strings"
)

// Sense is the optimization direction of the objective
type Sense int

const (
	Minimize Sense = iota
	Maximize
)

// String returns the canonical lowercase name
func (s Sense) String() string {
	switch s {
	case Minimize:
		return "minimize"
	case Maximize:
		return "maximize"
	default:
		return fmt.Sprintf("Sense(%d)", int(s))
	}
}

// ParseSense accepts min, minimize, max and maximize (case-insensitive)
func ParseSense(s string) (Sense, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "min", "minimize":
		return Minimize, nil
	case "max", "maximize":
		return Maximize, nil
	default:
		return Minimize, fmt.Errorf("unknown objective sense: %q", s)
	}
}

// Better reports whether a is strictly better than b in this sense
func (s Sense) Better(a, b float64) bool {
	if s == Maximize {
		return a > b
	}
	return a < b
}

// MarshalText implements encoding.TextMarshaler
func (s Sense) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Sense) UnmarshalText(text []byte) error {
	parsed, err := ParseSense(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
