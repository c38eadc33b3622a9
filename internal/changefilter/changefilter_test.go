package changefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"price-oracle/internal/record"
)

func TestFirstRecordPassesThrough(t *testing.T) {
	f := New(nil)
	current := record.Values{"X": "10.0"}

	assert.Equal(t, current, f.Apply(current))
}

func TestUnchangedFieldsDropped(t *testing.T) {
	f := New(nil)
	f.Apply(record.Values{"X": "10.0"})

	out := f.Apply(record.Values{"X": "10.0", "Y": "5.0"})
	assert.Equal(t, record.Values{"Y": "5.0"}, out)
}

func TestSameRecordKeepsOnlyTracked(t *testing.T) {
	f := New([]string{"GBYTE_USD"})
	x := record.Values{"GBYTE_USD": "20", "EUR_USD": "1.1"}
	f.Apply(x)

	assert.Equal(t, record.Values{"GBYTE_USD": "20"}, f.Apply(x))

	untracked := New(nil)
	untracked.Apply(x)
	assert.Empty(t, untracked.Apply(x))
}

func TestDisjointRecordsKeepEverything(t *testing.T) {
	f := New(nil)
	f.Apply(record.Values{"A": "1", "B": "2"})

	current := record.Values{"C": "3", "D": "4"}
	assert.Equal(t, current, f.Apply(current))
}

func TestComparisonIsStringExact(t *testing.T) {
	f := New(nil)
	f.Apply(record.Values{"X": "10"})

	assert.Equal(t, record.Values{"X": "10.0"}, f.Apply(record.Values{"X": "10.0"}))
}

func TestBaselineIsUnfilteredRecord(t *testing.T) {
	f := New(nil)
	f.Apply(record.Values{"X": "1", "Y": "2"})
	f.Apply(record.Values{"X": "1", "Y": "3"})

	assert.Equal(t, record.Values{"X": "1", "Y": "3"}, f.Previous())

	out := f.Apply(record.Values{"X": "1", "Y": "3"})
	assert.Empty(t, out)
}

func TestResetClearsBaseline(t *testing.T) {
	f := New(nil)
	f.Apply(record.Values{"X": "1"})
	f.Reset()

	assert.Nil(t, f.Previous())
	assert.Equal(t, record.Values{"X": "1"}, f.Apply(record.Values{"X": "1"}))
}
