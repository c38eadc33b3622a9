// Package record holds the data feed record published every cycle.
package record

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"price-oracle/internal/ledger"
)

const (
	// TimestampField is the payload key carrying the stamping time.
	TimestampField = "timestamp"
	// PayloadInline marks a message whose payload travels inside the unit.
	PayloadInline = "inline"
)

// ErrEmpty is returned when stamping a record without values.
var ErrEmpty = errors.New("record: no values to publish")

// Values maps series names to canonical decimal strings.
type Values map[string]string

// Clone returns an independent copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Keys returns the series names in lexical order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record is a stamped set of values ready for submission.
type Record struct {
	Values    Values
	Timestamp int64
	Hash      string
}

// Stamp freezes values into a Record with a millisecond timestamp and content hash.
func Stamp(values Values, now time.Time) (Record, error) {
	if len(values) == 0 {
		return Record{}, ErrEmpty
	}
	if _, clash := values[TimestampField]; clash {
		return Record{}, fmt.Errorf("record: series name %q is reserved", TimestampField)
	}

	rec := Record{Values: values.Clone(), Timestamp: now.UnixMilli()}
	hash, err := hashPayload(rec.Payload())
	if err != nil {
		return Record{}, err
	}
	rec.Hash = hash
	return rec, nil
}

// Payload is the message body: every value plus the timestamp.
func (r Record) Payload() map[string]any {
	payload := make(map[string]any, len(r.Values)+1)
	for k, v := range r.Values {
		payload[k] = v
	}
	payload[TimestampField] = r.Timestamp
	return payload
}

// Message wraps the record into a ledger message tagged with app.
func (r Record) Message(app string) ledger.Message {
	return ledger.Message{
		App:             app,
		PayloadLocation: PayloadInline,
		PayloadHash:     r.Hash,
		Payload:         r.Payload(),
	}
}

// hashPayload returns the base64 SHA-256 of the sorted-key JSON encoding.
func hashPayload(payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("record: encode payload: %w", err)
	}
	sum := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
