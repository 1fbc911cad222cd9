package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/exitengine/exitprofile"
	"github.com/rustyeddy/exitengine/journal"
	"go.uber.org/zap"
)

// Rebuild reconstructs an open position from its journaled entry and the
// exit legs recorded so far. Trailing state that is not journaled starts
// over from the entry.
func Rebuild(entry journal.EntryRecord, exits []journal.ExitRecord) (*Position, error) {
	profile, err := exitprofile.Parse(entry.Profile)
	if err != nil {
		return nil, fmt.Errorf("sim: rebuild %s: %w", entry.PositionID, err)
	}
	if !entry.Side.Valid() || !(entry.Qty > 0) || !(entry.EntryPlan > 0) || !(entry.Stop > 0) {
		return nil, fmt.Errorf("sim: rebuild %s: incomplete entry record", entry.PositionID)
	}

	p := &Position{
		ID:          entry.PositionID,
		Symbol:      normalize(entry.Symbol),
		Side:        entry.Side,
		Profile:     profile,
		State:       StateOpen,
		EntryPlan:   entry.EntryPlan,
		EntryExec:   entry.EntryExec,
		Qty:         entry.Qty,
		Remaining:   entry.Qty,
		InitialStop: entry.Stop,
		Stop:        entry.Stop,
		TP1:         entry.TP1,
		TP2:         entry.TP2,
		Risk:        math.Abs(entry.EntryPlan - entry.Stop),
		Extreme:     entry.EntryPlan,
		OpenTime:    entry.Time,
		Fill:        FillModel{SlippageBps: entry.SlippageBps},
	}
	for _, x := range exits {
		if x.PositionID != p.ID {
			return nil, fmt.Errorf("sim: rebuild %s: exit belongs to %s", p.ID, x.PositionID)
		}
		p.Exits = append(p.Exits, x)
		p.Remaining -= x.Qty
		p.closedFrac += x.Fraction
		if x.Label == LabelTP1 {
			p.TP1Hit = true
			p.State = StatePartial
			p.moveStop(p.EntryPlan)
		}
	}
	if p.closedFrac >= 1-fractionEpsilon {
		return nil, fmt.Errorf("sim: rebuild %s: exits already cover the position", p.ID)
	}
	if p.Remaining < 0 && p.Remaining > -p.Qty*fractionEpsilon {
		p.Remaining = 0
	}
	return p, nil
}

// Restore puts a position from an earlier run back under management. Its
// entry and exits are already journaled, so nothing is written. The
// engine's exit parameters replace the saved ones.
func (e *Engine) Restore(p *Position) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("sim: restore: position id is required")
	}
	pos := p.Clone()
	pos.Symbol = normalize(pos.Symbol)
	pos.Params = e.opts.Params
	pos.closedFrac = 0
	for _, x := range pos.Exits {
		pos.closedFrac += x.Fraction
	}

	switch {
	case pos.Closed() || pos.closedFrac >= 1-fractionEpsilon:
		return fmt.Errorf("sim: restore %s: position is closed", pos.ID)
	case !pos.Profile.Valid():
		return fmt.Errorf("sim: restore %s: invalid exit profile %s", pos.ID, pos.Profile)
	case !pos.Side.Valid() || !(pos.Remaining > 0):
		return fmt.Errorf("sim: restore %s: nothing to manage", pos.ID)
	}
	if err := pos.check("restore"); err != nil {
		return err
	}

	lock := e.symbolLock(pos.Symbol)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.positions[pos.Symbol]; ok {
		return fmt.Errorf("sim: restore %s: %s already holds %s", pos.ID, pos.Symbol, cur.ID)
	}
	e.positions[pos.Symbol] = pos

	e.log.Info("position restored",
		zap.String("id", pos.ID), zap.String("symbol", pos.Symbol), zap.Stringer("profile", pos.Profile),
		zap.Stringer("state", pos.State), zap.Float64("remaining", pos.Remaining), zap.Float64("stop", pos.Stop),
		zap.String("exits", exitLabels(pos.Exits)))
	return nil
}

func exitLabels(exits []journal.ExitRecord) string {
	labels := make([]string, len(exits))
	for i, x := range exits {
		labels[i] = x.Label
	}
	return strings.Join(labels, "+")
}
