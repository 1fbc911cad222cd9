package exitprofile

import "fmt"

// Params are the constants that shape each profile's behavior.
type Params struct {
	// PartialFraction of the original quantity closed at TP1.
	PartialFraction float64 `json:"partial_fraction" yaml:"partial_fraction"`

	// ChandelierK is the ATR multiple the trailing stop sits from the
	// extreme close.
	ChandelierK float64 `json:"chandelier_k" yaml:"chandelier_k"`

	// TrendTargetRR places the trend_trail target at entry +/- RR * R.
	TrendTargetRR float64 `json:"trend_target_rr" yaml:"trend_target_rr"`

	// ATRTargetMult is the ATR multiple used for the breakout_mm target
	// when it exceeds the measured move.
	ATRTargetMult float64 `json:"atr_target_mult" yaml:"atr_target_mult"`

	// TimeStopBars and TimeStopMinR: after this many bars a breakout that
	// has not moved TimeStopMinR * R in favor is closed.
	TimeStopBars int     `json:"time_stop_bars" yaml:"time_stop_bars"`
	TimeStopMinR float64 `json:"time_stop_min_r" yaml:"time_stop_min_r"`

	// MeanRevertRR places the mean_revert target at entry +/- RR * R.
	MeanRevertRR float64 `json:"mean_revert_rr" yaml:"mean_revert_rr"`
}

func DefaultParams() Params {
	return Params{
		PartialFraction: 0.5,
		ChandelierK:     3.5,
		TrendTargetRR:   5.0,
		ATRTargetMult:   2.0,
		TimeStopBars:    6,
		TimeStopMinR:    0.5,
		MeanRevertRR:    1.0,
	}
}

// Validate checks the ranges the state machine relies on.
func (p Params) Validate() error {
	if !(p.PartialFraction > 0) || p.PartialFraction >= 1 {
		return fmt.Errorf("exits.partial_fraction must be in (0,1)")
	}
	if p.ChandelierK <= 0 {
		return fmt.Errorf("exits.chandelier_k must be positive")
	}
	if p.TrendTargetRR <= 0 {
		return fmt.Errorf("exits.trend_target_rr must be positive")
	}
	if p.ATRTargetMult < 0 {
		return fmt.Errorf("exits.atr_target_mult must not be negative")
	}
	if p.TimeStopBars < 1 {
		return fmt.Errorf("exits.time_stop_bars must be at least 1")
	}
	if p.TimeStopMinR < 0 {
		return fmt.Errorf("exits.time_stop_min_r must not be negative")
	}
	if p.MeanRevertRR <= 0 {
		return fmt.Errorf("exits.mean_revert_rr must be positive")
	}
	return nil
}
