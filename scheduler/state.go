package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/exitengine/journal"
	"github.com/rustyeddy/exitengine/sim"
)

// StateStore keeps what a runner needs to pick up where the previous run
// stopped: open positions and the newest bar handled per symbol.
// *journal.SQLite satisfies it.
type StateStore interface {
	ListOpenEntries(ctx context.Context) ([]journal.EntryRecord, error)
	ListExits(ctx context.Context, positionID string) ([]journal.ExitRecord, error)
	LoadOpenPositions(ctx context.Context) ([]journal.PositionState, error)
	SaveOpenPositions(ctx context.Context, states []journal.PositionState) error
	LoadProcessed(ctx context.Context) (map[string]time.Time, error)
	SaveProcessed(ctx context.Context, symbol string, barTime time.Time) error
}

var _ StateStore = (*journal.SQLite)(nil)

// SetStateStore persists runner state to s after every cycle.
func (r *Runner) SetStateStore(s StateStore) { r.store = s }

// Restore loads the processed-bar markers and reopens every journaled
// entry that has not settled. A saved snapshot is used when its exits
// match the journal; otherwise the position is rebuilt from the entry and
// its exits. It returns the number of positions restored.
func (r *Runner) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	processed, err := r.store.LoadProcessed(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: load processed bars: %w", err)
	}
	r.mu.Lock()
	for sym, t := range processed {
		if last, ok := r.processed[sym]; !ok || t.After(last) {
			r.processed[sym] = t
		}
	}
	r.mu.Unlock()

	saved, err := r.store.LoadOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: load open positions: %w", err)
	}
	snapshots := make(map[string]*sim.Position, len(saved))
	for _, s := range saved {
		var p sim.Position
		if err := json.Unmarshal(s.State, &p); err != nil {
			r.log.Warn("unreadable position snapshot", zap.String("id", s.PositionID), zap.Error(err))
			continue
		}
		snapshots[s.PositionID] = &p
	}

	entries, err := r.store.ListOpenEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("scheduler: list open entries: %w", err)
	}
	var n int
	for _, e := range entries {
		exits, err := r.store.ListExits(ctx, e.PositionID)
		if err != nil {
			return n, fmt.Errorf("scheduler: exits of %s: %w", e.PositionID, err)
		}
		pos := snapshots[e.PositionID]
		if pos == nil || len(pos.Exits) != len(exits) {
			if pos, err = sim.Rebuild(e, exits); err != nil {
				r.log.Warn("position not restored", zap.String("id", e.PositionID), zap.Error(err))
				continue
			}
		}
		if err := r.eng.Restore(pos); err != nil {
			r.log.Warn("position not restored", zap.String("id", e.PositionID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// saveState writes a snapshot of every open position.
func (r *Runner) saveState(ctx context.Context) {
	if r.store == nil {
		return
	}
	positions := r.eng.Positions()
	states := make([]journal.PositionState, 0, len(positions))
	now := r.now().UTC()
	for _, p := range positions {
		b, err := json.Marshal(p)
		if err != nil {
			r.log.Error("position snapshot failed", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		states = append(states, journal.PositionState{PositionID: p.ID, Symbol: p.Symbol, State: b, Updated: now})
	}
	if err := r.store.SaveOpenPositions(ctx, states); err != nil {
		r.log.Error("saving open positions failed", zap.Error(err))
	}
}
