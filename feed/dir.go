package feed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rustyeddy/exitengine/market"
)

// ErrNotFound is returned when no bar file exists for a symbol.
var ErrNotFound = errors.New("feed: bar file not found")

var extensions = []string{".csv", ".csv.xz", ".csv.lzma"}

// Dir serves bars from files named <SYMBOL>_<interval>.csv[.xz|.lzma]
// inside a directory. Files are parsed once and cached.
type Dir struct {
	root string

	mu    sync.Mutex
	cache map[string][]market.Bar
}

var _ market.PriceSource = (*Dir)(nil)

func NewDir(root string) *Dir {
	return &Dir{root: root, cache: make(map[string][]market.Bar)}
}

// Path returns the first existing file for symbol and interval.
func (d *Dir) Path(symbol, interval string) (string, error) {
	base := strings.ToUpper(symbol) + "_" + interval
	for _, ext := range extensions {
		p := filepath.Join(d.root, base+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrNotFound, base, d.root)
}

func (d *Dir) load(symbol, interval string) ([]market.Bar, error) {
	key := strings.ToUpper(symbol) + "_" + interval

	d.mu.Lock()
	defer d.mu.Unlock()
	if bars, ok := d.cache[key]; ok {
		return bars, nil
	}
	p, err := d.Path(symbol, interval)
	if err != nil {
		return nil, err
	}
	bars, err := LoadFile(p, Range{})
	if err != nil {
		return nil, err
	}
	d.cache[key] = bars
	return bars, nil
}

// FetchBars returns the most recent limit bars. A limit <= 0 returns all.
func (d *Dir) FetchBars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := d.load(symbol, interval)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	out := make([]market.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// FetchTick reports the close of the newest bar in the first interval
// file found for symbol.
func (d *Dir) FetchTick(ctx context.Context, symbol string) (market.Tick, error) {
	if err := ctx.Err(); err != nil {
		return market.Tick{}, err
	}
	matches, err := filepath.Glob(filepath.Join(d.root, strings.ToUpper(symbol)+"_*.csv*"))
	if err != nil {
		return market.Tick{}, err
	}
	if len(matches) == 0 {
		return market.Tick{}, fmt.Errorf("%w: %s in %s", ErrNotFound, symbol, d.root)
	}
	bars, err := LoadFile(matches[0], Range{})
	if err != nil {
		return market.Tick{}, err
	}
	last := bars[len(bars)-1]
	return market.Tick{Symbol: strings.ToUpper(symbol), Time: last.Time, Price: last.Close}, nil
}
