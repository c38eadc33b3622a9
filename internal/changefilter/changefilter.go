// Package changefilter drops record fields that did not change since the
// previous cycle.
package changefilter

import (
	"price-oracle/internal/record"
)

// Filter remembers the last gathered record. It is not safe for concurrent use.
type Filter struct {
	keep     map[string]struct{}
	previous record.Values
}

// New builds a Filter that always retains the given series.
func New(alwaysKeep []string) *Filter {
	keep := make(map[string]struct{}, len(alwaysKeep))
	for _, name := range alwaysKeep {
		keep[name] = struct{}{}
	}
	return &Filter{keep: keep}
}

// Apply returns the fields of current worth publishing and makes current the
// new baseline. Values are compared as strings.
func (f *Filter) Apply(current record.Values) record.Values {
	previous := f.previous
	f.previous = current.Clone()

	if previous == nil {
		return current.Clone()
	}

	out := make(record.Values, len(current))
	for name, value := range current {
		if _, ok := f.keep[name]; ok {
			out[name] = value
			continue
		}
		if old, ok := previous[name]; !ok || old != value {
			out[name] = value
		}
	}
	return out
}

// Previous returns a copy of the baseline, or nil before the first Apply.
func (f *Filter) Previous() record.Values {
	if f.previous == nil {
		return nil
	}
	return f.previous.Clone()
}

// Reset forgets the baseline so the next record passes through unchanged.
func (f *Filter) Reset() {
	f.previous = nil
}
