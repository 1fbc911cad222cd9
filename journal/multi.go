package journal

import "errors"

// Multi writes every record to each journal in order. All journals are
// attempted; their errors are joined.
type Multi []Journal

func (m Multi) RecordEntry(e EntryRecord) error {
	return m.each(func(j Journal) error { return j.RecordEntry(e) })
}

func (m Multi) RecordExit(x ExitRecord) error {
	return m.each(func(j Journal) error { return j.RecordExit(x) })
}

func (m Multi) RecordTrade(t TradeRecord) error {
	return m.each(func(j Journal) error { return j.RecordTrade(t) })
}

func (m Multi) RecordEquity(e EquitySnapshot) error {
	return m.each(func(j Journal) error { return j.RecordEquity(e) })
}

func (m Multi) Close() error {
	return m.each(func(j Journal) error { return j.Close() })
}

func (m Multi) each(fn func(Journal) error) error {
	var errs []error
	for _, j := range m {
		if err := fn(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
