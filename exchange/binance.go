// Package exchange adapts Binance spot endpoints to the engine's price,
// instrument and broker interfaces.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/exitengine/broker"
	"github.com/rustyeddy/exitengine/internal/logging"
	"github.com/rustyeddy/exitengine/market"
)

// Binance is a spot client. Bars and prices need no credentials; placing
// brackets does.
type Binance struct {
	client *binance.Client
	quote  string
	log    *zap.Logger
}

// DefaultQuoteAsset is the asset Balance reports.
const DefaultQuoteAsset = "USDT"

var (
	_ market.PriceSource      = (*Binance)(nil)
	_ market.InstrumentSource = (*Binance)(nil)
	_ broker.Broker           = (*Binance)(nil)
)

func NewBinance(apiKey, secretKey string, testnet bool, log *zap.Logger) *Binance {
	if testnet {
		binance.UseTestnet = true
	}
	return &Binance{client: binance.NewClient(apiKey, secretKey), quote: DefaultQuoteAsset, log: logging.OrNop(log)}
}

// SetQuoteAsset changes the asset Balance reports.
func (b *Binance) SetQuoteAsset(asset string) {
	if a := strings.ToUpper(strings.TrimSpace(asset)); a != "" {
		b.quote = a
	}
}

// SetBaseURL points the client at another REST endpoint.
func (b *Binance) SetBaseURL(u string) {
	b.client.BaseURL = strings.TrimRight(u, "/")
}

func (b *Binance) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	svc := b.client.NewKlinesService().
		Symbol(strings.ToUpper(symbol)).
		Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", symbol, interval, err)
	}

	bars := make([]market.Bar, 0, len(klines))
	for _, k := range klines {
		bar := market.Bar{Time: time.UnixMilli(k.OpenTime).UTC()}
		for _, f := range []struct {
			dst *float64
			src string
		}{
			{&bar.Open, k.Open},
			{&bar.High, k.High},
			{&bar.Low, k.Low},
			{&bar.Close, k.Close},
			{&bar.Volume, k.Volume},
		} {
			v, err := parseFloat(f.src)
			if err != nil {
				return nil, fmt.Errorf("binance: kline %s: %w", symbol, err)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (b *Binance) FetchTick(ctx context.Context, symbol string) (market.Tick, error) {
	sym := strings.ToUpper(symbol)
	prices, err := b.client.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return market.Tick{}, fmt.Errorf("binance: price %s: %w", sym, err)
	}
	for _, p := range prices {
		if p.Symbol != sym {
			continue
		}
		v, err := parseFloat(p.Price)
		if err != nil {
			return market.Tick{}, fmt.Errorf("binance: price %s: %w", sym, err)
		}
		return market.Tick{Symbol: sym, Time: time.Now().UTC(), Price: v}, nil
	}
	return market.Tick{}, fmt.Errorf("binance: no price for %s: %w", sym, market.ErrNoPrice)
}

// Instrument reads the LOT_SIZE and PRICE_FILTER filters for symbol.
func (b *Binance) Instrument(ctx context.Context, symbol string) (market.Instrument, error) {
	sym := strings.ToUpper(symbol)
	info, err := b.client.NewExchangeInfoService().Symbol(sym).Do(ctx)
	if err != nil {
		return market.Instrument{}, fmt.Errorf("binance: exchange info %s: %w", sym, err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != sym {
			continue
		}
		in := market.Instrument{Symbol: sym}
		if lot := s.LotSizeFilter(); lot != nil {
			if in.QtyStep, err = parseFloat(lot.StepSize); err != nil {
				return market.Instrument{}, err
			}
			if in.MinQty, err = parseFloat(lot.MinQuantity); err != nil {
				return market.Instrument{}, err
			}
		}
		if pf := s.PriceFilter(); pf != nil {
			tick, err := decimal.NewFromString(pf.TickSize)
			if err != nil {
				return market.Instrument{}, fmt.Errorf("binance: tick size %q: %w", pf.TickSize, err)
			}
			in.PricePrecision = decimalPlaces(tick)
		}
		return in, nil
	}
	return market.Instrument{}, fmt.Errorf("binance: unknown symbol %s", sym)
}

// PlaceBracket sends a market entry followed by an OCO exit pair. Spot
// accounts cannot short, so only long brackets are accepted.
func (b *Binance) PlaceBracket(ctx context.Context, req broker.BracketRequest) (broker.BracketOrder, error) {
	if err := req.Validate(); err != nil {
		return broker.BracketOrder{}, err
	}
	if req.Side != market.Long {
		return broker.BracketOrder{}, fmt.Errorf("%w: spot brackets are long only", broker.ErrInvalidBracket)
	}

	sym := strings.ToUpper(req.Symbol)
	qty := decimal.NewFromFloat(req.Qty).String()

	entry := b.client.NewCreateOrderService().
		Symbol(sym).
		Side(binance.SideTypeBuy).
		Type(binance.OrderTypeMarket).
		Quantity(qty)
	if req.ClientID != "" {
		entry = entry.NewClientOrderID(req.ClientID)
	}
	res, err := entry.Do(ctx)
	if err != nil {
		return broker.BracketOrder{}, fmt.Errorf("binance: entry order %s: %w", sym, err)
	}

	stop := decimal.NewFromFloat(req.Stop).String()
	oco, err := b.client.NewCreateOCOService().
		Symbol(sym).
		Side(binance.SideTypeSell).
		Quantity(qty).
		Price(decimal.NewFromFloat(req.TakeProfit).String()).
		StopPrice(stop).
		StopLimitPrice(stop).
		StopLimitTimeInForce(binance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		// The entry is live without exits attached.
		b.log.Error("bracket exits rejected after entry filled",
			zap.String("symbol", sym),
			zap.Int64("order_id", res.OrderID),
			zap.Error(err),
		)
		return broker.BracketOrder{}, fmt.Errorf("binance: oco %s: %w", sym, err)
	}

	b.log.Info("bracket placed",
		zap.String("symbol", sym),
		zap.Int64("order_id", res.OrderID),
		zap.Int64("order_list_id", oco.OrderListID),
	)
	return broker.BracketOrder{
		OrderID:  fmt.Sprintf("%d", res.OrderID),
		ClientID: req.ClientID,
		Symbol:   sym,
		Side:     req.Side,
		Qty:      req.Qty,
		Placed:   time.UnixMilli(res.TransactTime).UTC(),
	}, nil
}

// Balance returns the free plus locked amount of the quote asset.
func (b *Binance) Balance(ctx context.Context) (float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: account: %w", err)
	}
	for _, bal := range acct.Balances {
		if bal.Asset != b.quote {
			continue
		}
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			return 0, fmt.Errorf("binance: %s free %q: %w", bal.Asset, bal.Free, err)
		}
		locked, err := decimal.NewFromString(bal.Locked)
		if err != nil {
			return 0, fmt.Errorf("binance: %s locked %q: %w", bal.Asset, bal.Locked, err)
		}
		return free.Add(locked).InexactFloat64(), nil
	}
	return 0, nil
}

// OpenBrackets returns the symbols with open orders, sorted. The exit
// legs of a placed bracket stay open until one of them fills.
func (b *Binance) OpenBrackets(ctx context.Context) ([]string, error) {
	orders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: open orders: %w", err)
	}
	seen := make(map[string]bool, len(orders))
	var out []string
	for _, o := range orders {
		if seen[o.Symbol] {
			continue
		}
		seen[o.Symbol] = true
		out = append(out, o.Symbol)
	}
	sort.Strings(out)
	return out, nil
}

func parseFloat(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("bad decimal %q: %w", s, err)
	}
	return d.InexactFloat64(), nil
}

// decimalPlaces returns the number of fractional digits in a step such as
// "0.01000000".
func decimalPlaces(step decimal.Decimal) int {
	if step.Sign() <= 0 {
		return 0
	}
	for p := 0; p < 16; p++ {
		if step.Shift(int32(p)).IsInteger() {
			return p
		}
	}
	return 16
}
