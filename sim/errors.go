package sim

import (
	"errors"
	"fmt"
)

// ErrPositionOpen is returned by Trade for a position that still holds
// quantity.
var ErrPositionOpen = errors.New("sim: position is still open")

// InvariantError reports a broken accounting rule on one position. The
// position must not be processed further.
type InvariantError struct {
	PositionID string
	Op         string
	Msg        string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("sim: %s: position %s: %s", e.Op, e.PositionID, e.Msg)
}

func (p *Position) invariant(op, format string, args ...any) error {
	return &InvariantError{PositionID: p.ID, Op: op, Msg: fmt.Sprintf(format, args...)}
}
