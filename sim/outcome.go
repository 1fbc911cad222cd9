package sim

import (
	"time"

	"github.com/rustyeddy/exitengine/journal"
)

// OutcomeKind is what happened to one symbol in one cycle.
type OutcomeKind string

const (
	OutcomeOpened  OutcomeKind = "opened"
	OutcomeExited  OutcomeKind = "exited"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomePlaced  OutcomeKind = "placed"
	OutcomeHeld    OutcomeKind = "held"
)

// Outcome is the single result reported for a symbol per cycle.
type Outcome struct {
	Symbol   string               `json:"symbol"`
	Kind     OutcomeKind          `json:"kind"`
	Reason   string               `json:"reason,omitempty"`
	BarTime  time.Time            `json:"bar_time,omitempty"`
	Position *Position            `json:"position,omitempty"`
	Exits    []journal.ExitRecord `json:"exits,omitempty"`
	Err      error                `json:"-"`
}

func Skipped(symbol, reason string) Outcome {
	return Outcome{Symbol: symbol, Kind: OutcomeSkipped, Reason: reason}
}
