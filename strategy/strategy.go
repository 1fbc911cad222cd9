// Package strategy holds the signal functions that turn closed bars into
// trade plans.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rustyeddy/exitengine/market"
)

// Signal reasons for bars that produce no plan.
const (
	ReasonInsufficientData = "insufficient-data"
	ReasonNoSignal         = "no-signal"
	ReasonATRNA            = "atr-na"
	ReasonNoBreakout       = "no-breakout"
	ReasonNoCross          = "no-cross"
	ReasonWeakTrend        = "weak-trend"
	ReasonNoTrend          = "no-trend"
	ReasonLowVolume        = "low-volume"
	ReasonRiskTooSmall     = "risk-too-small"
	ReasonNoStructure      = "no-structure"
	ReasonNoRetest         = "no-retest"
	ReasonRSINotOversold   = "rsi-not-oversold"
	ReasonRSINotOverbought = "rsi-not-overbought"
)

// Strategy inspects closed bars, oldest first, and returns a plan or the
// reason there is none. The last bar is the most recent closed bar.
type Strategy interface {
	Name() string
	Signal(bars []market.Bar) (*market.TradePlan, string)
}

// SignalFunc adapts a plain function to Strategy through FromFunc.
type SignalFunc func(bars []market.Bar) (*market.TradePlan, string)

type funcStrategy struct {
	name string
	fn   SignalFunc
}

func (f funcStrategy) Name() string { return f.name }

func (f funcStrategy) Signal(bars []market.Bar) (*market.TradePlan, string) { return f.fn(bars) }

// FromFunc names fn as a Strategy.
func FromFunc(name string, fn SignalFunc) Strategy {
	return funcStrategy{name: name, fn: fn}
}

// Params tune the built-in strategies. Zero fields take each strategy's
// defaults.
type Params struct {
	ChannelLen int     `json:"channel_len" yaml:"channel_len"`
	ATRLen     int     `json:"atr_len" yaml:"atr_len"`
	ATRMult    float64 `json:"atr_mult" yaml:"atr_mult"`
	TP1RR      float64 `json:"tp1_rr" yaml:"tp1_rr"`
	TP2RR      float64 `json:"tp2_rr" yaml:"tp2_rr"`
	FastLen    int     `json:"fast_len,omitempty" yaml:"fast_len,omitempty"`
	SlowLen    int     `json:"slow_len,omitempty" yaml:"slow_len,omitempty"`
	ADXLen     int     `json:"adx_len,omitempty" yaml:"adx_len,omitempty"`
	ADXMin     float64 `json:"adx_min,omitempty" yaml:"adx_min,omitempty"`

	MACDFast    int     `json:"macd_fast,omitempty" yaml:"macd_fast,omitempty"`
	MACDSlow    int     `json:"macd_slow,omitempty" yaml:"macd_slow,omitempty"`
	MACDSignal  int     `json:"macd_signal,omitempty" yaml:"macd_signal,omitempty"`
	RVOLLen     int     `json:"rvol_len,omitempty" yaml:"rvol_len,omitempty"`
	RVOLZ       float64 `json:"rvol_z,omitempty" yaml:"rvol_z,omitempty"`
	MinRiskFrac float64 `json:"min_risk_frac,omitempty" yaml:"min_risk_frac,omitempty"`

	SwingLen    int     `json:"swing_len,omitempty" yaml:"swing_len,omitempty"`
	FVGMinBps   float64 `json:"fvg_min_bps,omitempty" yaml:"fvg_min_bps,omitempty"`
	FVGLookback int     `json:"fvg_lookback,omitempty" yaml:"fvg_lookback,omitempty"`
	RSILen      int     `json:"rsi_len,omitempty" yaml:"rsi_len,omitempty"`
	RSIBuyMax   float64 `json:"rsi_buy_max,omitempty" yaml:"rsi_buy_max,omitempty"`
	RSISellMin  float64 `json:"rsi_sell_min,omitempty" yaml:"rsi_sell_min,omitempty"`
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

// Constructor builds a strategy from Params.
type Constructor func(Params) Strategy

var (
	mu       sync.RWMutex
	registry = map[string]Constructor{
		"atr_breakout":      func(p Params) Strategy { return NewATRBreakout(p) },
		"momentum":          func(p Params) Strategy { return NewMomentum(p) },
		"mean_reversion":    func(p Params) Strategy { return NewMeanReversion(p) },
		"ema_cross":         func(p Params) Strategy { return NewEMACross(p) },
		"macd_dualema_rvol": func(p Params) Strategy { return NewMACDDualEMARVOL(p) },
		"hhll_fvg":          func(p Params) Strategy { return NewHHLLFVG(p) },
	}
)

func key(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// Register adds or replaces a named strategy.
func Register(name string, c Constructor) {
	mu.Lock()
	defer mu.Unlock()
	registry[key(name)] = c
}

// ByName builds the named strategy. Dashes and case are ignored.
func ByName(name string, p Params) (Strategy, error) {
	mu.RLock()
	c, ok := registry[key(name)]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return c(p), nil
}

// Names lists the registered strategies in order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// plan builds a plan with targets at tp1RR and tp2RR multiples of the
// entry to stop distance. A zero tp2RR leaves TP2 unset.
func plan(side market.Side, entry, stop, tp1RR, tp2RR float64) *market.TradePlan {
	r := entry - stop
	if r < 0 {
		r = -r
	}
	if r < 1e-9 {
		r = 1e-9
	}
	dir := side.Sign()
	p := &market.TradePlan{
		Side:  side,
		Entry: entry,
		Stop:  stop,
		TP1:   entry + dir*tp1RR*r,
	}
	if tp2RR > 0 {
		p.TP2 = entry + dir*tp2RR*r
	}
	return p
}
