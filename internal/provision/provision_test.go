package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-oracle/internal/ledger"
)

type fakeOutputs struct {
	snapshot       ledger.CapacitySnapshot
	largest        int64
	snapshotCalls  int
	largestCalls   int
	lastMinAmount  int64
	lastSnapshotAt int64
	err            error
}

func (f *fakeOutputs) CapacitySnapshot(_ context.Context, _ string, minAmount int64) (ledger.CapacitySnapshot, error) {
	f.snapshotCalls++
	f.lastSnapshotAt = minAmount
	return f.snapshot, f.err
}

func (f *fakeOutputs) LargestSpendableOutput(_ context.Context, _ string, minAmount int64) (int64, bool, error) {
	f.largestCalls++
	f.lastMinAmount = minAmount
	if f.largest == 0 || f.largest < minAmount {
		return 0, false, nil
	}
	return f.largest, true, nil
}

func (f *fakeOutputs) HasSpendableOutputs(context.Context, string) (bool, error) {
	return true, nil
}

const addr = "FEEDADDRESS"

func TestSplitWhenBelowThreshold(t *testing.T) {
	reader := &fakeOutputs{snapshot: ledger.CapacitySnapshot{LargeOutputs: 2}, largest: 1400}
	p := New(reader, Options{Identity: addr, MinAvailable: 5, InitialFee: 700}, zerolog.Nop())

	plan, err := p.EnsureCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Output{{Address: addr, Amount: 700}, {Address: addr, Amount: 700}}, plan.Outputs)
	assert.Equal(t, int64(1400), plan.Split)
	assert.False(t, plan.Degraded)
	assert.Equal(t, int64(1400), reader.lastMinAmount, "split candidates must cover twice the fee")
}

func TestSplitOddAmountSumsToOutput(t *testing.T) {
	reader := &fakeOutputs{snapshot: ledger.CapacitySnapshot{LargeOutputs: 1}, largest: 1001}
	p := New(reader, Options{Identity: addr, MinAvailable: 3, InitialFee: 100}, zerolog.Nop())

	plan, err := p.EnsureCapacity(context.Background())
	require.NoError(t, err)
	require.Len(t, plan.Outputs, 2)
	assert.Equal(t, int64(501), plan.Outputs[0].Amount)
	assert.Equal(t, int64(1001), plan.Outputs[0].Amount+plan.Outputs[1].Amount)
}

func TestSingleZeroOutputWhenCapacitySufficient(t *testing.T) {
	reader := &fakeOutputs{snapshot: ledger.CapacitySnapshot{LargeOutputs: 5}, largest: 1_000_000}
	p := New(reader, Options{Identity: addr, MinAvailable: 5, InitialFee: 700}, zerolog.Nop())

	plan, err := p.EnsureCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ledger.Output{{Address: addr, Amount: 0}}, plan.Outputs)
	assert.Zero(t, reader.largestCalls)
}

func TestDegradedWhenNothingToSplit(t *testing.T) {
	reader := &fakeOutputs{snapshot: ledger.CapacitySnapshot{LargeOutputs: 1}, largest: 1000}
	p := New(reader, Options{Identity: addr, MinAvailable: 5, InitialFee: 700}, zerolog.Nop())

	plan, err := p.EnsureCapacity(context.Background())
	require.NoError(t, err)
	assert.True(t, plan.Degraded)
	assert.Equal(t, []ledger.Output{{Address: addr, Amount: 0}}, plan.Outputs)
}

func TestEstimateCountsSmallOutputsAndFeeIncome(t *testing.T) {
	reader := &fakeOutputs{snapshot: ledger.CapacitySnapshot{
		LargeOutputs:      3,
		SmallOutputsTotal: 1000,
		FeeIncomeTotal:    1100,
	}}
	p := New(reader, Options{Identity: addr, MinAvailable: 5, InitialFee: 700}, zerolog.Nop())

	plan, err := p.EnsureCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, plan.Available)
	assert.Len(t, plan.Outputs, 1)
	assert.Equal(t, int64(700), reader.lastSnapshotAt)
}

func TestCounterDecrementsBetweenRecomputes(t *testing.T) {
	reader := &fakeOutputs{snapshot: ledger.CapacitySnapshot{LargeOutputs: 8}}
	p := New(reader, Options{Identity: addr, MinAvailable: 5, InitialFee: 10}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := p.EnsureCapacity(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, 1, reader.snapshotCalls)
	assert.Equal(t, 5, p.Remaining())

	_, err := p.EnsureCapacity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reader.snapshotCalls, "counter at threshold forces a recompute")
}

func TestRecordFeeOnlyRatchetsUp(t *testing.T) {
	p := New(&fakeOutputs{}, Options{Identity: addr, InitialFee: 500}, zerolog.Nop())

	p.RecordFee(400)
	assert.Equal(t, int64(500), p.MaxFee())
	p.RecordFee(650)
	assert.Equal(t, int64(650), p.MaxFee())
	p.RecordFee(600)
	assert.Equal(t, int64(650), p.MaxFee())
}

func TestSnapshotErrorPropagates(t *testing.T) {
	boom := errors.New("db gone")
	p := New(&fakeOutputs{err: boom}, Options{Identity: addr, MinAvailable: 1}, zerolog.Nop())

	_, err := p.EnsureCapacity(context.Background())
	assert.ErrorIs(t, err, boom)
}
