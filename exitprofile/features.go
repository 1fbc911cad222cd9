package exitprofile

import (
	"github.com/rustyeddy/exitengine/indicators"
	"github.com/rustyeddy/exitengine/market"
)

// Lookbacks used by ComputeFeatures.
const (
	FeatureATRLen     = 14
	FeatureVolumeLen  = 20
	FeatureChannelLen = 20
)

// ComputeFeatures builds the snapshot for the last bar in bars. Fields
// whose lookback is not yet available keep neutral values: a volume ratio
// of 1 and no channel.
func ComputeFeatures(bars []market.Bar) Features {
	f := Features{VolRatio: 1}
	if len(bars) == 0 {
		return f
	}
	last := bars[len(bars)-1]

	if atr, err := indicators.ATRFunc(bars, FeatureATRLen); err == nil && last.Close > 0 {
		f.ATRPct = atr / last.Close
	}

	if vwap := indicators.DailyVWAP(bars); vwap > 0 {
		f.RefDistPct = (last.Close - vwap) / vwap
	}

	if avg, err := indicators.SMA(market.Volumes(bars), FeatureVolumeLen); err == nil && avg > 0 {
		f.VolRatio = last.Volume / avg
	}

	if ch, err := indicators.Donchian(bars, FeatureChannelLen); err == nil {
		f.ChannelPos, f.HasChannel = ch.Position(last.Close)
	}
	return f
}
