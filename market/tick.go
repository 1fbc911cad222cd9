package market

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoPrice is returned by TickStore.Get for symbols without a price.
var ErrNoPrice = errors.New("price not found")

// Tick is a single observed price.
type Tick struct {
	Symbol string
	Time   time.Time
	Price  float64
}

// PriceSource fetches recent bars and the latest price for a symbol.
type PriceSource interface {
	FetchBars(ctx context.Context, symbol, interval string, limit int) ([]Bar, error)
	FetchTick(ctx context.Context, symbol string) (Tick, error)
}

// InstrumentSource resolves instrument metadata, usually from an exchange.
type InstrumentSource interface {
	Instrument(ctx context.Context, symbol string) (Instrument, error)
}

// TickStore keeps the last tick seen per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (ps *TickStore) Set(t Tick) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ticks[t.Symbol] = t
}

func (ps *TickStore) Get(symbol string) (Tick, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	t, ok := ps.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}

// All returns a copy of every stored tick.
func (ps *TickStore) All() map[string]Tick {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make(map[string]Tick, len(ps.ticks))
	for k, v := range ps.ticks {
		out[k] = v
	}
	return out
}
