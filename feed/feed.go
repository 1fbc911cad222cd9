// Package feed loads OHLCV bars from CSV files for backtests and offline
// paper runs.
//
// Rows look like
//
//	time,open,high,low,close[,volume]
//
// where time is RFC3339, RFC3339Nano, "2006-01-02 15:04:05" or unix
// seconds/milliseconds. A leading header row is allowed. Files ending in
// .xz or .lzma are decompressed on the fly.
package feed

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/rustyeddy/exitengine/market"
)

// ErrEmpty is returned when a file holds no usable bars.
var ErrEmpty = errors.New("feed: no bars")

// Range limits loaded bars to [From, To). Zero bounds are open.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

type readCloser struct {
	io.Reader
	f *os.File
}

func (rc readCloser) Close() error { return rc.f.Close() }

// Open opens path for reading, decompressing .xz and .lzma files.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)

	switch {
	case strings.HasSuffix(path, ".xz"):
		zr, err := xz.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("feed: xz %s: %w", path, err)
		}
		return readCloser{Reader: zr, f: f}, nil
	case strings.HasSuffix(path, ".lzma"):
		zr, err := lzma.NewReader(br)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("feed: lzma %s: %w", path, err)
		}
		return readCloser{Reader: zr, f: f}, nil
	}
	return readCloser{Reader: br, f: f}, nil
}

// LoadFile reads every bar in path that falls inside rng.
func LoadFile(path string, rng Range) ([]market.Bar, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	bars, err := ReadBars(rc, rng)
	if err != nil {
		return nil, fmt.Errorf("feed: %s: %w", path, err)
	}
	return bars, nil
}

// ReadBars parses CSV bars from r. Rows with too few fields or an empty
// time are skipped; malformed numbers are errors. The result is sorted by
// time with duplicate timestamps collapsed to the last row seen.
func ReadBars(r io.Reader, rng Range) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		bars  []market.Bar
		first = true
		line  = 0
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++

		if first {
			first = false
			if len(row) > 0 && isHeader(row[0]) {
				continue
			}
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok || !rng.contains(b.Time) {
			continue
		}
		bars = append(bars, b)
	}

	if len(bars) == 0 {
		return nil, ErrEmpty
	}
	return dedupe(bars), nil
}

func isHeader(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "time", "timestamp", "date", "datetime", "open_time":
		return true
	}
	return false
}

func parseBarRow(row []string) (market.Bar, bool, error) {
	if len(row) < 5 {
		return market.Bar{}, false, nil
	}
	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Bar{}, false, nil
	}
	t, err := ParseTime(ts)
	if err != nil {
		return market.Bar{}, false, err
	}

	var vals [5]float64
	n := 4
	if len(row) > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("bad number %q: %w", row[i+1], err)
		}
		vals[i] = v
	}

	return market.Bar{
		Time:   t,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}, true, nil
}

// ParseTime accepts the timestamp layouts found in exported bar files.
// Bare integers above 1e12 are unix milliseconds, smaller ones seconds.
func ParseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}

func dedupe(bars []market.Bar) []market.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	out := bars[:0]
	for _, b := range bars {
		if n := len(out); n > 0 && out[n-1].Time.Equal(b.Time) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
