package sim

import (
	"time"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/journal"
)

// evaluate dispatches one probe to the position's profile. Every profile
// checks the stop before any target.
func (p *Position) evaluate(pr probe, ts time.Time) ([]journal.ExitRecord, error) {
	switch p.Profile {
	case exitprofile.PullbackTwoStep:
		return p.evalPullback(pr, ts)
	case exitprofile.TrendTrail:
		return p.evalTrend(pr, ts)
	case exitprofile.BreakoutMM:
		return p.evalBreakout(pr, ts)
	case exitprofile.MeanRevert:
		return p.evalStatic(pr, ts)
	}
	return nil, p.invariant("evaluate", "unknown profile %s", p.Profile)
}

func one(ev journal.ExitRecord, err error) ([]journal.ExitRecord, error) {
	if err != nil {
		return nil, err
	}
	return []journal.ExitRecord{ev}, nil
}

// evalPullback: SL or TP1 while open; after TP1 the stop sits at entry and
// the rest leaves at BE or TP2. A bar that fires TP1 is also checked for
// BE and TP2.
func (p *Position) evalPullback(pr probe, ts time.Time) ([]journal.ExitRecord, error) {
	var out []journal.ExitRecord

	if !p.TP1Hit {
		if hitStop(p.Side, p.Stop, pr) {
			return one(p.closeRemaining(p.Stop, LabelStopLoss, ts))
		}
		if !hitTarget(p.Side, p.TP1, pr) {
			return nil, nil
		}
		if p.TP2 == 0 {
			return one(p.closeRemaining(p.TP1, LabelTarget, ts))
		}
		ev, err := p.closeFraction(p.Params.PartialFraction, p.TP1, LabelTP1, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
		p.TP1Hit = true
		p.State = StatePartial
		p.moveStop(p.EntryPlan)
	}

	switch {
	case hitStop(p.Side, p.Stop, pr):
		label := LabelBreakEven
		if p.Stop != p.EntryPlan {
			label = LabelStopLoss
		}
		ev, err := p.closeRemaining(p.Stop, label, ts)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	case hitTarget(p.Side, p.TP2, pr):
		ev, err := p.closeRemaining(p.TP2, LabelTP2, ts)
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// evalTrend checks the stop in force during the bar, then the far target,
// then ratchets the chandelier stop off the extreme close.
func (p *Position) evalTrend(pr probe, ts time.Time) ([]journal.ExitRecord, error) {
	if hitStop(p.Side, p.Stop, pr) {
		label := LabelStopLoss
		if p.Stop != p.InitialStop {
			label = LabelTrail
		}
		return one(p.closeRemaining(p.Stop, label, ts))
	}
	if hitTarget(p.Side, p.TP1, pr) {
		return one(p.closeRemaining(p.TP1, LabelTarget, ts))
	}
	if pr.bar {
		p.trail(pr.close)
	}
	return nil, nil
}

func (p *Position) trail(last float64) {
	if tighter(p.Side, p.Extreme, last) {
		p.Extreme = last
	}
	atr := p.ATR
	if !(atr > 0) {
		atr = p.Risk
	}
	p.moveStop(p.Extreme - p.Side.Sign()*p.Params.ChandelierK*atr)
}

// evalBreakout is a static stop and target plus a time stop for breakouts
// that never got going.
func (p *Position) evalBreakout(pr probe, ts time.Time) ([]journal.ExitRecord, error) {
	if hitStop(p.Side, p.Stop, pr) {
		return one(p.closeRemaining(p.Stop, LabelStopLoss, ts))
	}
	if hitTarget(p.Side, p.TP1, pr) {
		return one(p.closeRemaining(p.TP1, LabelTarget, ts))
	}
	p.excursion(pr)
	if pr.bar && p.BarsHeld >= p.Params.TimeStopBars && p.MaxFavorable < p.Params.TimeStopMinR*p.Risk {
		return one(p.closeRemaining(pr.close, LabelTimeStop, ts))
	}
	return nil, nil
}

func (p *Position) excursion(pr probe) {
	fav := pr.high - p.EntryPlan
	if p.Side.Sign() < 0 {
		fav = p.EntryPlan - pr.low
	}
	if fav > p.MaxFavorable {
		p.MaxFavorable = fav
	}
}

// evalStatic closes everything at the stop or the target.
func (p *Position) evalStatic(pr probe, ts time.Time) ([]journal.ExitRecord, error) {
	if hitStop(p.Side, p.Stop, pr) {
		return one(p.closeRemaining(p.Stop, LabelStopLoss, ts))
	}
	if hitTarget(p.Side, p.TP1, pr) {
		return one(p.closeRemaining(p.TP1, LabelTarget, ts))
	}
	return nil, nil
}
