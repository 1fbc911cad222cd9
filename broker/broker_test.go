package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/exitengine/market"
)

func TestBracketValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		req     BracketRequest
		wantErr bool
	}{
		{"long ok", BracketRequest{Symbol: "BTCUSDT", Side: market.Long, Qty: 1, Stop: 95, TakeProfit: 110}, false},
		{"short ok", BracketRequest{Symbol: "BTCUSDT", Side: market.Short, Qty: 1, Stop: 105, TakeProfit: 90}, false},
		{"long inverted", BracketRequest{Symbol: "BTCUSDT", Side: market.Long, Qty: 1, Stop: 110, TakeProfit: 95}, true},
		{"no symbol", BracketRequest{Side: market.Long, Qty: 1, Stop: 95, TakeProfit: 110}, true},
		{"zero qty", BracketRequest{Symbol: "BTCUSDT", Side: market.Long, Stop: 95, TakeProfit: 110}, true},
		{"missing stop", BracketRequest{Symbol: "BTCUSDT", Side: market.Long, Qty: 1, TakeProfit: 110}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBracket)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPaperPlaceBracket(t *testing.T) {
	t.Parallel()

	p := NewPaper(1000)
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return at }

	o, err := p.PlaceBracket(context.Background(), BracketRequest{
		Symbol: "ethusdt", Side: market.Long, Qty: 2, Stop: 95, TakeProfit: 110, ClientID: "pos-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", o.Symbol)
	assert.Equal(t, "pos-1", o.ClientID)
	assert.NotEmpty(t, o.OrderID)
	assert.True(t, at.Equal(o.Placed))

	_, err = p.PlaceBracket(context.Background(), BracketRequest{Symbol: "ETHUSDT", Side: market.Long})
	assert.ErrorIs(t, err, ErrInvalidBracket)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.PlaceBracket(ctx, BracketRequest{Symbol: "ETHUSDT", Side: market.Long, Qty: 1, Stop: 95, TakeProfit: 110})
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, p.Orders(), 1)
}

func TestPaperBook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPaper(1000)

	bal, err := p.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, bal)

	req := BracketRequest{Symbol: "BTCUSDT", Side: market.Long, Qty: 1, Stop: 95, TakeProfit: 110}
	_, err = p.PlaceBracket(ctx, req)
	require.NoError(t, err)
	_, err = p.PlaceBracket(ctx, req)
	assert.ErrorIs(t, err, ErrBracketOpen, "one bracket per symbol")

	open, err := p.OpenBrackets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, open)

	require.NoError(t, p.Settle("btcusdt", 10))
	assert.Error(t, p.Settle("BTCUSDT", 10))

	open, err = p.OpenBrackets(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	bal, err = p.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1010.0, bal)

	_, err = p.PlaceBracket(ctx, req)
	assert.NoError(t, err)
}
