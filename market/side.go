package market

import (
	"fmt"
	"strings"
)

// Side is the direction of a position.
type Side int8

const (
	Long  Side = +1
	Short Side = -1
)

// Sign returns +1 for longs and -1 for shorts.
func (s Side) Sign() float64 { return float64(s) }

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

// Valid reports whether s is Long or Short.
func (s Side) Valid() bool { return s == Long || s == Short }

// ParseSide accepts long/buy and short/sell in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return Long, nil
	case "short", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	v, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
