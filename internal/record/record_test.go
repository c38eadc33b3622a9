package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampSetsTimestampAndHash(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	values := Values{"GBYTE_USD": "12.3456", "GBYTE_BTC": "0.00031"}

	rec, err := Stamp(values, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), rec.Timestamp)
	assert.NotEmpty(t, rec.Hash)

	again, err := Stamp(Values{"GBYTE_BTC": "0.00031", "GBYTE_USD": "12.3456"}, now)
	require.NoError(t, err)
	assert.Equal(t, rec.Hash, again.Hash, "hash must not depend on insertion order")

	changed, err := Stamp(Values{"GBYTE_USD": "12.3457", "GBYTE_BTC": "0.00031"}, now)
	require.NoError(t, err)
	assert.NotEqual(t, rec.Hash, changed.Hash)

	values["GBYTE_USD"] = "1"
	assert.Equal(t, "12.3456", rec.Values["GBYTE_USD"], "stamped record must not alias the input")
}

func TestStampRejectsEmptyAndReserved(t *testing.T) {
	_, err := Stamp(Values{}, time.Now())
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Stamp(Values{TimestampField: "1"}, time.Now())
	assert.Error(t, err)
}

func TestMessageCarriesPayload(t *testing.T) {
	rec, err := Stamp(Values{"X": "10"}, time.UnixMilli(5))
	require.NoError(t, err)

	msg := rec.Message("data_feed")
	assert.Equal(t, "data_feed", msg.App)
	assert.Equal(t, PayloadInline, msg.PayloadLocation)
	assert.Equal(t, rec.Hash, msg.PayloadHash)
	assert.Equal(t, "10", msg.Payload["X"])
	assert.Equal(t, int64(5), msg.Payload[TimestampField])
}

func TestKeysSorted(t *testing.T) {
	assert.Equal(t, []string{"A", "B", "C"}, Values{"C": "1", "A": "2", "B": "3"}.Keys())
}
