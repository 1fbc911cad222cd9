// Package ledger owns the account equity and sequences realized results
// into the journal.
package ledger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/journal"
	"go.uber.org/zap"
)

var (
	// ErrAlreadySettled means a position was settled twice.
	ErrAlreadySettled = errors.New("ledger: position already settled")

	// ErrIncompleteExits means the exit fractions handed to Settle do not
	// cover the whole position.
	ErrIncompleteExits = errors.New("ledger: exit fractions do not sum to 1")
)

// fractionTolerance bounds float drift when summing exit fractions.
const fractionTolerance = 1e-9

type Account struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Equity   float64 `json:"equity" yaml:"equity"`
}

// Ledger is the single writer of the account equity. Equity moves only in
// Settle, once per fully closed position. A nil sink keeps everything in
// memory.
type Ledger struct {
	mu      sync.Mutex
	acct    Account
	start   float64
	sink    journal.Journal
	log     *zap.Logger
	settled map[string]struct{}
	trades  []journal.TradeRecord
	curve   []journal.EquitySnapshot
}

func New(acct Account, sink journal.Journal, log *zap.Logger) *Ledger {
	return &Ledger{
		acct:    acct,
		start:   acct.Equity,
		sink:    sink,
		log:     logging.OrNop(log),
		settled: make(map[string]struct{}),
	}
}

// Equity returns the current realized equity.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct.Equity
}

// StartEquity is the equity the ledger was created with.
func (l *Ledger) StartEquity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.start
}

func (l *Ledger) Account() Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acct
}

// RecordEntry writes an entry through to the sink.
func (l *Ledger) RecordEntry(e journal.EntryRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return
	}
	if err := l.sink.RecordEntry(e); err != nil {
		l.log.Error("journal entry write failed", zap.String("position_id", e.PositionID), zap.Error(err))
	}
}

// RecordExit writes one exit leg through to the sink. Equity is untouched.
func (l *Ledger) RecordExit(x journal.ExitRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return
	}
	if err := l.sink.RecordExit(x); err != nil {
		l.log.Error("journal exit write failed",
			zap.String("position_id", x.PositionID), zap.String("label", x.Label), zap.Error(err))
	}
}

// Settle books a closed position. Realized P&L is the sum of the exit legs,
// equity moves by exactly that amount, and one trade and one equity point
// are appended. Settling the same position twice is an error.
func (l *Ledger) Settle(t journal.TradeRecord, exits []journal.ExitRecord) (journal.TradeRecord, error) {
	var pnl, frac float64
	for _, x := range exits {
		if x.PositionID != t.PositionID {
			return t, fmt.Errorf("ledger: exit for %s handed to settle of %s", x.PositionID, t.PositionID)
		}
		pnl += x.PnL
		frac += x.Fraction
	}
	if len(exits) == 0 || math.Abs(frac-1) > fractionTolerance {
		return t, fmt.Errorf("%w: position %s has %.12f", ErrIncompleteExits, t.PositionID, frac)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.settled[t.PositionID]; ok {
		return t, fmt.Errorf("%w: %s", ErrAlreadySettled, t.PositionID)
	}
	l.settled[t.PositionID] = struct{}{}

	l.acct.Equity += pnl
	t.RealizedPL = pnl
	t.EquityAfter = l.acct.Equity
	if t.Labels == "" {
		labels := make([]string, len(exits))
		for i, x := range exits {
			labels[i] = x.Label
		}
		t.Labels = strings.Join(labels, "+")
	}

	// Keep the curve monotonic in time when symbols close out of order.
	at := t.CloseTime
	if n := len(l.curve); n > 0 && at.Before(l.curve[n-1].Time) {
		at = l.curve[n-1].Time
	}
	pt := journal.EquitySnapshot{Time: at, Equity: l.acct.Equity}

	l.trades = append(l.trades, t)
	l.curve = append(l.curve, pt)

	if l.sink != nil {
		if err := l.sink.RecordTrade(t); err != nil {
			l.log.Error("journal trade write failed", zap.String("position_id", t.PositionID), zap.Error(err))
		}
		if err := l.sink.RecordEquity(pt); err != nil {
			l.log.Error("journal equity write failed", zap.String("position_id", t.PositionID), zap.Error(err))
		}
	}
	return t, nil
}

// Trades returns a copy of the settled trades in settlement order.
func (l *Ledger) Trades() []journal.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]journal.TradeRecord(nil), l.trades...)
}

// Curve returns a copy of the equity points appended by Settle.
func (l *Ledger) Curve() []journal.EquitySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]journal.EquitySnapshot(nil), l.curve...)
}

// Close closes the sink, if any.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}
