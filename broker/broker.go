// Package broker defines how live bracket orders leave the engine. The
// simulation never needs a broker; the paper runner places a bracket only
// when trading is enabled.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/exitengine/internal/id"
	"github.com/rustyeddy/exitengine/market"
)

var ErrInvalidBracket = errors.New("broker: invalid bracket")

var ErrBracketOpen = errors.New("broker: bracket already open")

type Broker interface {
	PlaceBracket(ctx context.Context, req BracketRequest) (BracketOrder, error)
	// Balance is the account value in the quote currency. Live orders are
	// sized from it.
	Balance(ctx context.Context) (float64, error)
	// OpenBrackets lists the symbols that still have live exit orders.
	OpenBrackets(ctx context.Context) ([]string, error)
}

// BracketRequest is a market entry with a protective stop and a take
// profit attached.
type BracketRequest struct {
	Symbol     string
	Side       market.Side
	Qty        float64
	Stop       float64
	TakeProfit float64
	ClientID   string
}

// Validate checks that the stop and target sit on the correct sides of
// each other for the request's direction.
func (r BracketRequest) Validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol required", ErrInvalidBracket)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("%w: qty %v", ErrInvalidBracket, r.Qty)
	}
	if r.Stop <= 0 || r.TakeProfit <= 0 {
		return fmt.Errorf("%w: stop and take profit required", ErrInvalidBracket)
	}
	if r.Side.Sign()*(r.TakeProfit-r.Stop) <= 0 {
		return fmt.Errorf("%w: take profit %v on wrong side of stop %v", ErrInvalidBracket, r.TakeProfit, r.Stop)
	}
	return nil
}

// BracketOrder is the broker's acknowledgement.
type BracketOrder struct {
	OrderID  string
	ClientID string
	Symbol   string
	Side     market.Side
	Qty      float64
	Placed   time.Time
}

// Paper accepts every valid bracket and keeps it in memory. It stands in
// for an exchange in dry runs and tests. A bracket stays open until Settle
// books its result against the paper balance.
type Paper struct {
	mu      sync.Mutex
	balance float64
	orders  []BracketOrder
	open    map[string]BracketOrder
	now     func() time.Time
}

var _ Broker = (*Paper)(nil)

func NewPaper(balance float64) *Paper {
	return &Paper{balance: balance, open: make(map[string]BracketOrder), now: time.Now}
}

func (p *Paper) Balance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// OpenBrackets returns the symbols with an unsettled bracket, sorted.
func (p *Paper) OpenBrackets(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.open))
	for sym := range p.open {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// Settle closes the symbol's bracket and adds pnl to the balance.
func (p *Paper) Settle(symbol string, pnl float64) error {
	sym := strings.ToUpper(symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.open[sym]; !ok {
		return fmt.Errorf("broker: no open bracket for %s", sym)
	}
	delete(p.open, sym)
	p.balance += pnl
	return nil
}

func (p *Paper) PlaceBracket(ctx context.Context, req BracketRequest) (BracketOrder, error) {
	if err := ctx.Err(); err != nil {
		return BracketOrder{}, err
	}
	if err := req.Validate(); err != nil {
		return BracketOrder{}, err
	}

	sym := strings.ToUpper(req.Symbol)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.open[sym]; ok {
		return BracketOrder{}, fmt.Errorf("%w: %s", ErrBracketOpen, sym)
	}

	now := p.now()
	o := BracketOrder{
		OrderID:  id.At(now),
		ClientID: req.ClientID,
		Symbol:   sym,
		Side:     req.Side,
		Qty:      req.Qty,
		Placed:   now,
	}
	p.orders = append(p.orders, o)
	p.open[sym] = o
	return o, nil
}

// Orders returns the brackets placed so far.
func (p *Paper) Orders() []BracketOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]BracketOrder, len(p.orders))
	copy(out, p.orders)
	return out
}
