package journal

import "sync"

// Memory keeps every record in slices. It backs tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	entries []EntryRecord
	exits   []ExitRecord
	trades  []TradeRecord
	equity  []EquitySnapshot
	closed  bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) RecordEntry(e EntryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) RecordExit(x ExitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exits = append(m.exits, x)
	return nil
}

func (m *Memory) RecordTrade(t TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *Memory) RecordEquity(e EquitySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = append(m.equity, e)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) Entries() []EntryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EntryRecord(nil), m.entries...)
}

func (m *Memory) Exits() []ExitRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExitRecord(nil), m.exits...)
}

func (m *Memory) Trades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TradeRecord(nil), m.trades...)
}

func (m *Memory) Equity() []EquitySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EquitySnapshot(nil), m.equity...)
}

func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
