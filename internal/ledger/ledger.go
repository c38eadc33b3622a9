// Package ledger declares the contracts of the external ledger and wallet the
// oracle publishes through, together with the value types crossing that
// boundary.
package ledger

import (
	"context"
	"errors"
	"math"
)

// MaxPosition is the cursor used to ask for the most recent value of a series.
const MaxPosition int64 = math.MaxInt64

// ErrNotEnoughFunds is returned by a Writer when the payer cannot fund a submission.
var ErrNotEnoughFunds = errors.New("ledger: not enough spendable funds")

// Output is a payment attached to a submission.
type Output struct {
	Address string `json:"address"`
	Amount  int64  `json:"amount"`
}

// Message is an application tagged payload carried by a submission.
type Message struct {
	App             string         `json:"app"`
	PayloadLocation string         `json:"payload_location"`
	PayloadHash     string         `json:"payload_hash"`
	Payload         map[string]any `json:"payload"`
}

// Receipt describes an accepted submission.
type Receipt struct {
	Unit       string `json:"unit"`
	HeadersFee int64  `json:"headers_commission"`
	PayloadFee int64  `json:"payload_commission"`
}

// Fee is the total commission paid for the submission.
func (r Receipt) Fee() int64 {
	return r.HeadersFee + r.PayloadFee
}

// SeriesValue is a published value of a series and where it landed on the ledger.
// Position is nil when the ledger has not assigned one.
type SeriesValue struct {
	Value    string
	Position *int64
}

// CapacitySnapshot summarises the spendable funds of an identity relative to a fee estimate.
type CapacitySnapshot struct {
	// LargeOutputs counts stable unspent outputs worth at least the fee estimate.
	LargeOutputs int
	// SmallOutputsTotal sums stable unspent outputs below the fee estimate.
	SmallOutputsTotal int64
	// FeeIncomeTotal sums unspent commission income earned by the identity.
	FeeIncomeTotal int64
}

// Writer signs and broadcasts submissions.
type Writer interface {
	WaitUntilSynced(ctx context.Context) error
	ComposeAndSubmit(ctx context.Context, payer string, outputs []Output, message Message) (Receipt, error)
}

// SeriesReader looks up previously published series values.
type SeriesReader interface {
	// LastValueOfSeries returns the newest value of series published by identity
	// at or below maxPosition. The bool is false when none exists.
	LastValueOfSeries(ctx context.Context, identity, series string, maxPosition int64) (SeriesValue, bool, error)
}

// OutputReader inspects the spendable outputs of an identity.
type OutputReader interface {
	CapacitySnapshot(ctx context.Context, identity string, minAmount int64) (CapacitySnapshot, error)
	// LargestSpendableOutput returns the amount of the biggest stable unspent
	// output of at least minAmount. The bool is false when none exists.
	LargestSpendableOutput(ctx context.Context, identity string, minAmount int64) (int64, bool, error)
	HasSpendableOutputs(ctx context.Context, identity string) (bool, error)
}

// Reader combines the read side contracts.
type Reader interface {
	SeriesReader
	OutputReader
}
