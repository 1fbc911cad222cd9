// Package sim runs the position state machine: open, partial exits, stop
// migration, and the final close, evaluated per bar or per tick.
package sim

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/market"
)

// State is where a position sits in its lifecycle.
type State uint8

const (
	StateOpen State = iota
	StatePartial
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StatePartial:
		return "partial"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{StateOpen, StatePartial, StateClosed} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("sim: unknown position state %q", b)
}

// Exit labels.
const (
	LabelStopLoss  = "SL"
	LabelTP1       = "TP1"
	LabelTP2       = "TP2"
	LabelTarget    = "TP"
	LabelBreakEven = "BE"
	LabelTimeStop  = "TIME"
	LabelTrail     = "TRAIL"
	LabelEndOfData = "MKT_EOD"
	LabelManual    = "MKT"
)

// Fallback RR targets for a pullback position whose plan has no TP1.
const (
	fallbackTP1RR = 1.5
	fallbackTP2RR = 3.0
	fallbackMMRR  = 2.0
)

// fractionEpsilon absorbs float drift when comparing closed fractions.
const fractionEpsilon = 1e-9

// Spec describes a position to open.
type Spec struct {
	ID         string
	Symbol     string
	Plan       market.TradePlan
	Qty        float64
	Profile    exitprofile.Profile
	Params     exitprofile.Params
	Fill       FillModel
	Instrument market.Instrument
	Time       time.Time
}

// Position is one open position. The engine owns it; callers get copies.
type Position struct {
	ID      string              `json:"id"`
	Symbol  string              `json:"symbol"`
	Side    market.Side         `json:"side"`
	Profile exitprofile.Profile `json:"profile"`
	State   State               `json:"state"`

	EntryPlan float64 `json:"entry_plan"`
	EntryExec float64 `json:"entry_exec"`
	Qty       float64 `json:"qty"`
	Remaining float64 `json:"remaining"`

	InitialStop float64 `json:"initial_stop"`
	Stop        float64 `json:"stop"`
	TP1         float64 `json:"tp1"`
	TP2         float64 `json:"tp2,omitempty"`
	Risk        float64 `json:"risk"`
	ATR         float64 `json:"atr,omitempty"`

	// Extreme is the most favorable close seen, used by the trailing stop.
	Extreme float64 `json:"extreme"`
	// MaxFavorable is the largest favorable excursion from the planned
	// entry, in price units.
	MaxFavorable float64 `json:"max_favorable"`
	BarsHeld     int     `json:"bars_held"`
	TP1Hit       bool    `json:"tp1_hit"`

	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time,omitempty"`

	Params exitprofile.Params   `json:"-"`
	Fill   FillModel            `json:"fill"`
	Exits  []journal.ExitRecord `json:"exits,omitempty"`

	closedFrac float64
}

// NewPosition validates spec and builds a position in StateOpen. The
// executed entry is the planned entry after slippage; profile targets are
// fixed here from the planned entry and R.
func NewPosition(s Spec) (*Position, error) {
	plan := s.Plan
	switch {
	case s.ID == "":
		return nil, fmt.Errorf("sim: position id is required")
	case !plan.Side.Valid():
		return nil, fmt.Errorf("sim: %s: side %d is not long or short", s.ID, plan.Side)
	case !(s.Qty > 0) || math.IsInf(s.Qty, 0):
		return nil, fmt.Errorf("sim: %s: qty %.8g must be positive", s.ID, s.Qty)
	case !(plan.Entry > 0) || !(plan.Stop > 0):
		return nil, fmt.Errorf("sim: %s: entry and stop must be positive", s.ID)
	case plan.Side.Sign()*(plan.Entry-plan.Stop) <= 0:
		return nil, fmt.Errorf("sim: %s: stop %.8g is not on the loss side of entry %.8g", s.ID, plan.Stop, plan.Entry)
	case !s.Profile.Valid():
		return nil, fmt.Errorf("sim: %s: invalid exit profile %s", s.ID, s.Profile)
	}
	if err := s.Params.Validate(); err != nil {
		return nil, fmt.Errorf("sim: %s: %w", s.ID, err)
	}

	p := &Position{
		ID:          s.ID,
		Symbol:      s.Symbol,
		Side:        plan.Side,
		Profile:     s.Profile,
		State:       StateOpen,
		EntryPlan:   plan.Entry,
		EntryExec:   s.Fill.Entry(plan.Entry, plan.Side),
		Qty:         s.Qty,
		Remaining:   s.Qty,
		InitialStop: plan.Stop,
		Stop:        plan.Stop,
		Risk:        plan.Risk(),
		ATR:         plan.ATR,
		Extreme:     plan.Entry,
		OpenTime:    s.Time,
		Params:      s.Params,
		Fill:        s.Fill,
	}
	p.TP1, p.TP2 = targets(plan, s.Profile, s.Params)
	p.TP1 = s.Instrument.RoundPrice(p.TP1)
	p.TP2 = s.Instrument.RoundPrice(p.TP2)
	return p, nil
}

// targets returns the profile's take-profit levels. TP2 is zero for the
// single target profiles.
func targets(plan market.TradePlan, profile exitprofile.Profile, prm exitprofile.Params) (tp1, tp2 float64) {
	r := plan.Risk()
	dir := plan.Side.Sign()
	at := func(rr float64) float64 { return plan.Entry + dir*rr*r }

	switch profile {
	case exitprofile.PullbackTwoStep:
		if plan.TP1 == 0 {
			return at(fallbackTP1RR), at(fallbackTP2RR)
		}
		return plan.TP1, plan.TP2
	case exitprofile.TrendTrail:
		return at(prm.TrendTargetRR), 0
	case exitprofile.BreakoutMM:
		move := math.Max(plan.RangeHeight, prm.ATRTargetMult*plan.ATR)
		switch {
		case move > 0:
			return plan.Entry + dir*move, 0
		case plan.TP1 != 0:
			return plan.TP1, 0
		}
		return at(fallbackMMRR), 0
	case exitprofile.MeanRevert:
		return at(prm.MeanRevertRR), 0
	}
	return 0, 0
}

// Closed reports whether the position has no remaining quantity.
func (p *Position) Closed() bool { return p.State == StateClosed }

// ClosedFraction is the share of the original quantity already exited.
func (p *Position) ClosedFraction() float64 { return p.closedFrac }

// Clone returns a copy that shares nothing with p.
func (p *Position) Clone() *Position {
	c := *p
	c.Exits = append([]journal.ExitRecord(nil), p.Exits...)
	return &c
}

// Unrealized returns the open P&L of the remaining quantity marked at
// price, after exit slippage.
func (p *Position) Unrealized(price float64) float64 {
	if p.Closed() || !(price > 0) {
		return 0
	}
	return p.Side.Sign() * (p.Fill.Exit(price, p.Side) - p.EntryExec) * p.Remaining
}

// EvaluateBar runs one completed bar through the state machine. A bar
// without a usable range is skipped. A closed position yields nothing.
// On an invariant error the events emitted before the failure are returned
// with it.
func (p *Position) EvaluateBar(b market.Bar) ([]journal.ExitRecord, error) {
	if p.Closed() || !b.Valid() {
		return nil, nil
	}
	if err := p.check("evaluate bar"); err != nil {
		return nil, err
	}
	p.BarsHeld++
	return p.evaluate(probe{high: b.High, low: b.Low, close: b.Close, bar: true}, b.Time)
}

// EvaluateTick runs a single live price through the same transitions as a
// bar whose range is that price. Bar bookkeeping (bars held, trailing
// update, time stop) only happens on bars.
func (p *Position) EvaluateTick(price float64, ts time.Time) ([]journal.ExitRecord, error) {
	if p.Closed() || !(price > 0) || math.IsInf(price, 0) {
		return nil, nil
	}
	if err := p.check("evaluate tick"); err != nil {
		return nil, err
	}
	return p.evaluate(probe{high: price, low: price, close: price}, ts)
}

// ForceClose exits the remaining quantity at price under label.
func (p *Position) ForceClose(price float64, ts time.Time, label string) ([]journal.ExitRecord, error) {
	if p.Closed() {
		return nil, nil
	}
	if !(price > 0) {
		return nil, p.invariant("force close", "price %.8g is not positive", price)
	}
	ev, err := p.closeRemaining(price, label, ts)
	if err != nil {
		return nil, err
	}
	return []journal.ExitRecord{ev}, nil
}

// Trade summarizes a closed position. ExitAvg is the fraction weighted
// average of the executed exit prices.
func (p *Position) Trade() (journal.TradeRecord, error) {
	if !p.Closed() {
		return journal.TradeRecord{}, fmt.Errorf("%w: %s", ErrPositionOpen, p.ID)
	}
	var wsum, fsum, pnl float64
	labels := make([]string, 0, len(p.Exits))
	for _, x := range p.Exits {
		wsum += x.ExecPrice * x.Fraction
		fsum += x.Fraction
		pnl += x.PnL
		labels = append(labels, x.Label)
	}
	if fsum <= 0 {
		return journal.TradeRecord{}, p.invariant("trade", "closed without exits")
	}
	return journal.TradeRecord{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Profile:    p.Profile.String(),
		EntryPlan:  p.EntryPlan,
		EntryExec:  p.EntryExec,
		ExitAvg:    wsum / fsum,
		Qty:        p.Qty,
		RealizedPL: pnl,
		Labels:     strings.Join(labels, "+"),
		OpenTime:   p.OpenTime,
		CloseTime:  p.CloseTime,
	}, nil
}

func (p *Position) check(op string) error {
	switch {
	case p.Remaining < 0:
		return p.invariant(op, "remaining %.12g is negative", p.Remaining)
	case p.Remaining > p.Qty*(1+fractionEpsilon):
		return p.invariant(op, "remaining %.12g exceeds qty %.12g", p.Remaining, p.Qty)
	case p.closedFrac > 1+fractionEpsilon:
		return p.invariant(op, "closed fraction %.12g exceeds 1", p.closedFrac)
	}
	return nil
}

// closeFraction exits frac of the original quantity at trigger.
func (p *Position) closeFraction(frac, trigger float64, label string, ts time.Time) (journal.ExitRecord, error) {
	if p.Closed() {
		return journal.ExitRecord{}, p.invariant("close", "%s after the position closed", label)
	}
	open := 1 - p.closedFrac
	if !(frac > 0) || frac > open+fractionEpsilon {
		return journal.ExitRecord{}, p.invariant("close", "%s fraction %.12g exceeds open fraction %.12g", label, frac, open)
	}
	qty := p.Qty * frac
	if qty > p.Remaining*(1+fractionEpsilon) {
		return journal.ExitRecord{}, p.invariant("close", "%s qty %.12g exceeds remaining %.12g", label, qty, p.Remaining)
	}
	if frac >= open-fractionEpsilon {
		return p.closeRemaining(trigger, label, ts)
	}
	ev := p.exit(frac, qty, trigger, label, ts)
	p.Remaining -= qty
	p.closedFrac += frac
	return ev, nil
}

// closeRemaining exits whatever is left. The final leg takes the exact
// open fraction so the legs sum to 1 and remaining lands on 0.
func (p *Position) closeRemaining(trigger float64, label string, ts time.Time) (journal.ExitRecord, error) {
	if p.Closed() || p.Remaining <= 0 {
		return journal.ExitRecord{}, p.invariant("close", "%s with nothing remaining", label)
	}
	ev := p.exit(1-p.closedFrac, p.Remaining, trigger, label, ts)
	p.Remaining = 0
	p.closedFrac = 1
	p.State = StateClosed
	p.CloseTime = ts
	return ev, nil
}

func (p *Position) exit(frac, qty, trigger float64, label string, ts time.Time) journal.ExitRecord {
	exec := p.Fill.Exit(trigger, p.Side)
	ev := journal.ExitRecord{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Label:      label,
		Fraction:   frac,
		Qty:        qty,
		Price:      trigger,
		ExecPrice:  exec,
		EntryExec:  p.EntryExec,
		PnL:        p.Side.Sign() * (exec - p.EntryExec) * qty,
		Time:       ts,
	}
	p.Exits = append(p.Exits, ev)
	return ev
}

// moveStop relocates the stop when level is tighter than the current one.
func (p *Position) moveStop(level float64) {
	if level > 0 && tighter(p.Side, p.Stop, level) {
		p.Stop = level
	}
}
