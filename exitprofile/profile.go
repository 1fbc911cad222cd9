// Package exitprofile names the exit regimes a position can be managed
// under and picks one for a new position.
package exitprofile

import (
	"fmt"
	"strings"
)

// Profile selects the exit behavior of a position. It is fixed at open.
type Profile uint8

const (
	// PullbackTwoStep takes half at TP1, moves the stop to entry, and
	// exits the rest at break-even or TP2.
	PullbackTwoStep Profile = iota
	// TrendTrail rides a far target under a chandelier trailing stop.
	TrendTrail
	// BreakoutMM targets a measured move and time-stops stalled breakouts.
	BreakoutMM
	// MeanRevert exits everything at a modest static target.
	MeanRevert
)

// All lists every profile in declaration order.
var All = []Profile{PullbackTwoStep, TrendTrail, BreakoutMM, MeanRevert}

var names = [...]string{
	PullbackTwoStep: "pullback_two_step",
	TrendTrail:      "trend_trail",
	BreakoutMM:      "breakout_mm",
	MeanRevert:      "mean_revert",
}

func (p Profile) String() string {
	if int(p) < len(names) {
		return names[p]
	}
	return fmt.Sprintf("profile(%d)", uint8(p))
}

// Valid reports whether p is one of the declared profiles.
func (p Profile) Valid() bool { return int(p) < len(names) }

// Parse maps a profile name to a Profile. Dashes and case are ignored, and
// "classic" is accepted for PullbackTwoStep.
func Parse(s string) (Profile, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if key == "classic" {
		return PullbackTwoStep, nil
	}
	for i, n := range names {
		if n == key {
			return Profile(i), nil
		}
	}
	return 0, fmt.Errorf("unknown exit profile %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Profile) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid exit profile %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Profile) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
