package exitprofile

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/exitengine/market"
)

// Selection modes. Any other mode string is read as a profile name.
const (
	ModeAuto = "auto"
	ModeMap  = "map"
)

// Auto mode thresholds.
const (
	BreakoutChannelEdge = 0.95
	BreakoutMinVolRatio = 1.5
	MeanRevertMinDist   = 0.010
	MeanRevertMaxVol    = 1.2
)

// DefaultMap is the per-strategy table used by map mode.
var DefaultMap = map[string]Profile{
	"atr_breakout":   BreakoutMM,
	"momentum":       PullbackTwoStep,
	"mean_reversion": MeanRevert,
	"hhll_fvg":       TrendTrail,
}

// MapFallback is returned by map mode for strategies missing from the table.
const MapFallback = PullbackTwoStep

// Features is the market snapshot the auto mode classifies. Percentages
// are fractions: 0.01 is one percent.
type Features struct {
	ATRPct     float64 // ATR / close
	RefDistPct float64 // (close - VWAP) / VWAP
	VolRatio   float64 // volume / average volume
	ChannelPos float64 // 0 at the channel low, 1 at the high
	HasChannel bool
}

// Selector picks the exit profile for a new position.
type Selector struct {
	Mode string
	// Map overrides DefaultMap entries in map mode.
	Map map[string]Profile
}

// Select returns the profile for a position opened by strategy on side.
// An explicit profile mode always wins; otherwise a valid plan hint is
// honored before the auto or map rule runs.
func (s Selector) Select(strategy string, side market.Side, hint string, f Features) Profile {
	mode := strings.ToLower(strings.TrimSpace(s.Mode))
	if mode != ModeAuto && mode != ModeMap && mode != "" {
		if p, err := Parse(mode); err == nil {
			return p
		}
		mode = ModeAuto
	}

	if hint != "" {
		if p, err := Parse(hint); err == nil {
			return p
		}
	}

	if mode == ModeMap {
		return s.lookup(strategy)
	}
	return Auto(side, f)
}

func (s Selector) lookup(strategy string) Profile {
	key := strings.ToLower(strategy)
	if p, ok := s.Map[key]; ok && p.Valid() {
		return p
	}
	if p, ok := DefaultMap[key]; ok {
		return p
	}
	return MapFallback
}

// Auto classifies the regime: a breakout at the channel edge on strong
// volume, a stretched quiet market for mean reversion, else a trend.
func Auto(side market.Side, f Features) Profile {
	if f.HasChannel && f.VolRatio >= BreakoutMinVolRatio {
		if (side == market.Long && f.ChannelPos >= BreakoutChannelEdge) ||
			(side == market.Short && f.ChannelPos <= 1-BreakoutChannelEdge) {
			return BreakoutMM
		}
	}
	dist := f.RefDistPct
	if dist < 0 {
		dist = -dist
	}
	if dist >= MeanRevertMinDist && f.VolRatio <= MeanRevertMaxVol {
		return MeanRevert
	}
	return TrendTrail
}

// ParseMap parses "strategy:profile,strategy:profile" pairs.
func ParseMap(s string) (map[string]Profile, error) {
	out := make(map[string]Profile)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, &MapError{Pair: pair}
		}
		p, err := Parse(v)
		if err != nil {
			return nil, err
		}
		out[strings.ToLower(strings.TrimSpace(k))] = p
	}
	return out, nil
}

// MapError reports a malformed profile map entry.
type MapError struct {
	Pair string
}

func (e *MapError) Error() string {
	return fmt.Sprintf("exit profile map entry %q is not strategy:profile", e.Pair)
}
