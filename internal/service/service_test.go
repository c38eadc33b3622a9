package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-oracle/internal/fetcher"
	"price-oracle/internal/history"
	"price-oracle/internal/ledger"
	"price-oracle/internal/metrics"
	"price-oracle/internal/movingavg"
	"price-oracle/internal/provision"
	"price-oracle/internal/record"
)

const identity = "FEEDADDR"

type staticSource struct {
	name string
	obs  map[string]string
	err  error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Fetch(context.Context) (fetcher.Observations, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(fetcher.Observations, len(s.obs))
	for k, v := range s.obs {
		out[k] = decimal.RequireFromString(v)
	}
	return out, nil
}

type fakeLedger struct {
	mu        sync.Mutex
	history   map[string][]ledger.SeriesValue // newest first
	spendable bool
	snapshot  ledger.CapacitySnapshot
	largest   int64
	submitted []ledger.Message
	outputs   [][]ledger.Output
	submitErr error
	fee       int64
	synced    bool
}

func (f *fakeLedger) WaitUntilSynced(context.Context) error {
	f.synced = true
	return nil
}

func (f *fakeLedger) ComposeAndSubmit(_ context.Context, payer string, outputs []ledger.Output, msg ledger.Message) (ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return ledger.Receipt{}, f.submitErr
	}
	if payer != identity {
		return ledger.Receipt{}, errors.New("unexpected payer")
	}
	f.submitted = append(f.submitted, msg)
	f.outputs = append(f.outputs, outputs)
	return ledger.Receipt{Unit: "UNIT", HeadersFee: f.fee / 2, PayloadFee: f.fee - f.fee/2}, nil
}

func (f *fakeLedger) LastValueOfSeries(_ context.Context, _ string, series string, maxPosition int64) (ledger.SeriesValue, bool, error) {
	for _, v := range f.history[series] {
		if v.Position == nil || *v.Position <= maxPosition {
			return v, true, nil
		}
	}
	return ledger.SeriesValue{}, false, nil
}

func (f *fakeLedger) CapacitySnapshot(context.Context, string, int64) (ledger.CapacitySnapshot, error) {
	return f.snapshot, nil
}

func (f *fakeLedger) LargestSpendableOutput(_ context.Context, _ string, minAmount int64) (int64, bool, error) {
	if f.largest >= minAmount && f.largest > 0 {
		return f.largest, true, nil
	}
	return 0, false, nil
}

func (f *fakeLedger) HasSpendableOutputs(context.Context, string) (bool, error) {
	return f.spendable, nil
}

func seriesHistory(value string, n int) []ledger.SeriesValue {
	out := make([]ledger.SeriesValue, n)
	for i := range out {
		pos := int64(n - i)
		out[i] = ledger.SeriesValue{Value: value, Position: &pos}
	}
	return out
}

func newService(t *testing.T, l *fakeLedger, sources []fetcher.Source, engine *movingavg.Engine, provOpts provision.Options) *Service {
	t.Helper()
	logger := zerolog.Nop()
	if provOpts.Identity == "" {
		provOpts.Identity = identity
	}
	if provOpts.InitialFee == 0 {
		provOpts.InitialFee = 700
	}
	return New(Options{
		Identity:       identity,
		MaxConcurrency: 2,
		Format:         Formatter{DefaultDigits: 6},
	}, nil, Deps{
		Sources:     sources,
		Outputs:     l,
		Writer:      l,
		History:     history.New(l, identity, logger),
		Engine:      engine,
		Provisioner: provision.New(l, provOpts, logger),
		Metrics:     metrics.New(nil),
		Clock:       func() time.Time { return time.UnixMilli(1_760_000_000_000) },
	}, logger)
}

func TestScenarioFormatsAndAveragesAcrossSources(t *testing.T) {
	l := &fakeLedger{
		spendable: true,
		snapshot:  ledger.CapacitySnapshot{LargeOutputs: 50},
		history:   map[string][]ledger.SeriesValue{"A_BTC": seriesHistory("0.00001200", 10)},
	}
	engine := movingavg.New(movingavg.Options{Series: []string{"A_BTC"}, Length: 10, BTCSuffix: "_BTC", BaseSuffix: "_GBYTE"}, zerolog.Nop())
	svc := newService(t, l, []fetcher.Source{
		staticSource{name: "one", obs: map[string]string{"A_USD": "1.23456789"}},
		staticSource{name: "two", obs: map[string]string{"A_BTC": "0.00001234"}},
	}, engine, provision.Options{MinAvailable: 5})

	require.NoError(t, svc.Start(context.Background()))
	require.True(t, l.synced)
	require.Len(t, engine.Window(), 10)

	cycle, err := svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomePublished, cycle.Outcome)

	require.Len(t, l.submitted, 1)
	msg := l.submitted[0]
	assert.Equal(t, "data_feed", msg.App)
	assert.Equal(t, record.PayloadInline, msg.PayloadLocation)
	assert.Equal(t, "1.23457", msg.Payload["A_USD"])
	assert.Equal(t, "0.00001234", msg.Payload["A_BTC"])
	assert.Equal(t, "0.00001203", msg.Payload["A_BTC_MA"])
	assert.Equal(t, int64(1_760_000_000_000), msg.Payload[record.TimestampField])
	assert.Equal(t, cycle.Record.Hash, msg.PayloadHash)
}

func TestScenarioChangeFilterEmitsOnlyNewFields(t *testing.T) {
	l := &fakeLedger{spendable: true, snapshot: ledger.CapacitySnapshot{LargeOutputs: 50}}
	src := &switchSource{}
	svc := newService(t, l, []fetcher.Source{src}, movingavg.New(movingavg.Options{}, zerolog.Nop()), provision.Options{MinAvailable: 5})
	require.NoError(t, svc.Start(context.Background()))

	src.obs = map[string]string{"X": "10.0"}
	_, err := svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)

	src.obs = map[string]string{"X": "10.0", "Y": "5.0"}
	cycle, err := svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)

	assert.Equal(t, record.Values{"Y": "5"}, cycle.Published)
	require.Len(t, l.submitted, 2)
	assert.NotContains(t, l.submitted[1].Payload, "X")

	cycle, err = svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeSkipped, cycle.Outcome)
	assert.Len(t, l.submitted, 2)
}

func TestScenarioSplitsLargestOutput(t *testing.T) {
	l := &fakeLedger{
		spendable: true,
		snapshot:  ledger.CapacitySnapshot{LargeOutputs: 2},
		largest:   1400,
		fee:       700,
	}
	svc := newService(t, l, []fetcher.Source{staticSource{name: "one", obs: map[string]string{"A_USD": "2"}}}, nil,
		provision.Options{MinAvailable: 5, InitialFee: 700})

	cycle, err := svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1400), cycle.Plan.Split)
	require.Len(t, l.outputs, 1)
	assert.Equal(t, []ledger.Output{{Address: identity, Amount: 700}, {Address: identity, Amount: 700}}, l.outputs[0])
}

func TestMergeIsFirstWriterWinsInSourceOrder(t *testing.T) {
	l := &fakeLedger{spendable: true, snapshot: ledger.CapacitySnapshot{LargeOutputs: 50}}
	svc := newService(t, l, []fetcher.Source{
		staticSource{name: "first", obs: map[string]string{"A_USD": "1"}},
		staticSource{name: "broken", err: errors.New("timeout")},
		staticSource{name: "second", obs: map[string]string{"A_USD": "2", "B_USD": "3"}},
	}, nil, provision.Options{MinAvailable: 5})

	got := svc.Collect(context.Background(), zerolog.Nop())
	assert.Equal(t, record.Values{"A_USD": "1", "B_USD": "3"}, got)
}

func TestDerivedSeriesFillsMissingCross(t *testing.T) {
	l := &fakeLedger{spendable: true}
	svc := newService(t, l, []fetcher.Source{
		staticSource{name: "one", obs: map[string]string{"GBYTE_BTC": "0.0002", "BTC_USD": "60000"}},
	}, nil, provision.Options{})
	svc.opts.Derived = []Derived{{Name: "GBYTE_USD", Base: "GBYTE_BTC", Quote: "BTC_USD"}}

	got := svc.Collect(context.Background(), zerolog.Nop())
	assert.Equal(t, "12", got["GBYTE_USD"])
}

func TestFormatterPolicies(t *testing.T) {
	f := Formatter{
		DefaultDigits: 6,
		Series: map[string]SeriesFormat{
			"FIXED":  {Policy: PolicyFixed, Decimals: 2},
			"SCALED": {Scale: 9},
		},
	}
	got := f.Apply(fetcher.Observations{
		"FIXED":    decimal.RequireFromString("1.005"),
		"SCALED":   decimal.RequireFromString("0.000000012345678"),
		"NEGATIVE": decimal.RequireFromString("-1"),
		"PLAIN":    decimal.RequireFromString("1234567.89"),
	}, zerolog.Nop())

	assert.Equal(t, record.Values{"FIXED": "1.01", "SCALED": "12.3457", "PLAIN": "1234568"}, got)
}

func TestNoSpendableOutputsSkipsCycle(t *testing.T) {
	l := &fakeLedger{spendable: false}
	svc := newService(t, l, []fetcher.Source{staticSource{name: "one", obs: map[string]string{"A": "1"}}}, nil, provision.Options{})

	_, err := svc.RunCycle(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrNoSpendableOutputs)
	assert.Empty(t, l.submitted)
}

func TestSubmissionFailureDoesNotRaiseFee(t *testing.T) {
	l := &fakeLedger{spendable: true, snapshot: ledger.CapacitySnapshot{LargeOutputs: 50}, submitErr: ledger.ErrNotEnoughFunds}
	svc := newService(t, l, []fetcher.Source{staticSource{name: "one", obs: map[string]string{"A": "1"}}}, nil, provision.Options{MinAvailable: 5})

	cycle, err := svc.RunCycle(context.Background(), time.Now())
	require.ErrorIs(t, err, ledger.ErrNotEnoughFunds)
	assert.Equal(t, metrics.OutcomeFailed, cycle.Outcome)
	assert.Equal(t, int64(700), svc.deps.Provisioner.MaxFee())
}

func TestSuccessfulSubmissionRatchetsFee(t *testing.T) {
	l := &fakeLedger{spendable: true, snapshot: ledger.CapacitySnapshot{LargeOutputs: 50}, fee: 912}
	svc := newService(t, l, []fetcher.Source{staticSource{name: "one", obs: map[string]string{"A": "1"}}}, nil, provision.Options{MinAvailable: 5})

	_, err := svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(912), svc.deps.Provisioner.MaxFee())
}

func TestStartFailsOnHistoryInconsistency(t *testing.T) {
	l := &fakeLedger{history: map[string][]ledger.SeriesValue{"A_BTC": {{Value: "1"}}}}
	l.history["A_BTC"][0].Position = nil
	engine := movingavg.New(movingavg.Options{Series: []string{"A_BTC"}, Length: 3}, zerolog.Nop())
	svc := newService(t, l, nil, engine, provision.Options{})

	err := svc.Start(context.Background())
	require.ErrorIs(t, err, history.ErrHistoryInconsistency)
}

func TestDryRunDoesNotSubmit(t *testing.T) {
	l := &fakeLedger{spendable: false}
	svc := newService(t, l, []fetcher.Source{staticSource{name: "one", obs: map[string]string{"A": "1"}}}, nil, provision.Options{})
	svc.opts.DryRun = true

	cycle, err := svc.RunCycle(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, metrics.OutcomeDryRun, cycle.Outcome)
	assert.Equal(t, record.Values{"A": "1"}, cycle.Record.Values)
	assert.Empty(t, l.submitted)
}

type switchSource struct {
	obs map[string]string
}

func (s *switchSource) Name() string { return "switch" }

func (s *switchSource) Fetch(ctx context.Context) (fetcher.Observations, error) {
	return staticSource{obs: s.obs}.Fetch(ctx)
}
