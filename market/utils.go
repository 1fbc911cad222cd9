package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IntervalDuration maps exchange style intervals ("15m", "4h", "1d", "1w")
// to a duration.
func IntervalDuration(interval string) (time.Duration, error) {
	s := strings.TrimSpace(interval)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := time.Duration(n)
	switch s[len(s)-1] {
	case 'm':
		return unit * time.Minute, nil
	case 'h':
		return unit * time.Hour, nil
	case 'd':
		return unit * 24 * time.Hour, nil
	case 'w':
		return unit * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("unsupported interval unit %q", interval)
}

// LastClosed returns the bars that have fully closed at now. A bar whose
// open time plus interval is after now is still forming and is dropped.
func LastClosed(bars []Bar, interval time.Duration, now time.Time) []Bar {
	n := len(bars)
	for n > 0 && bars[n-1].Time.Add(interval).After(now) {
		n--
	}
	return bars[:n]
}
