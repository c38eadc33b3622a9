// Package provision keeps the publishing identity supplied with enough
// independently spendable outputs to fund future submissions.
//
// Every submission spends at least one output of the identity. If the identity
// ever ends up with a single output, each submission consumes it and the feed
// stalls until funds arrive from outside, so outputs are split before the
// estimate of fundable postings drops below a threshold.
package provision

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"price-oracle/internal/ledger"
)

// Options configure a Provisioner.
type Options struct {
	Identity     string
	MinAvailable int
	InitialFee   int64
}

// Plan lists the self addressed outputs to attach to the next submission.
type Plan struct {
	Outputs []ledger.Output
	// Available is the estimated number of postings left before this one.
	Available int
	// Split is the amount of the output being split, zero when none.
	Split int64
	// Degraded is set when capacity is low and no output was big enough to split.
	Degraded bool
}

// Provisioner tracks the posting capacity estimate and the running maximum fee.
// It is not safe for concurrent use.
type Provisioner struct {
	reader    ledger.OutputReader
	opts      Options
	maxFee    int64
	remaining int
	logger    zerolog.Logger
}

// New constructs a Provisioner. The first EnsureCapacity always queries the ledger.
func New(reader ledger.OutputReader, opts Options, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		reader: reader,
		opts:   opts,
		maxFee: opts.InitialFee,
		logger: logger.With().Str("component", "provisioner").Logger(),
	}
}

// MaxFee returns the highest per-submission fee observed so far.
func (p *Provisioner) MaxFee() int64 {
	return p.maxFee
}

// Remaining returns the local estimate of fundable postings.
func (p *Provisioner) Remaining() int {
	return p.remaining
}

// RecordFee raises the fee estimate when a submission cost more than any before.
func (p *Provisioner) RecordFee(fee int64) {
	if fee > p.maxFee {
		p.logger.Info().Int64("previous", p.maxFee).Int64("fee", fee).Msg("max submission fee raised")
		p.maxFee = fee
	}
}

// EnsureCapacity decides the outputs of the next submission.
func (p *Provisioner) EnsureCapacity(ctx context.Context) (Plan, error) {
	if p.remaining <= p.opts.MinAvailable {
		available, err := p.estimate(ctx)
		if err != nil {
			return Plan{}, err
		}
		p.remaining = available
	}

	plan := Plan{
		Outputs:   []ledger.Output{{Address: p.opts.Identity, Amount: 0}},
		Available: p.remaining,
	}
	p.remaining--

	if plan.Available >= p.opts.MinAvailable {
		return plan, nil
	}

	amount, found, err := p.reader.LargestSpendableOutput(ctx, p.opts.Identity, 2*p.maxFee)
	if err != nil {
		return Plan{}, fmt.Errorf("query largest spendable output: %w", err)
	}
	if !found {
		p.logger.Warn().Int("available", plan.Available).Int64("max_fee", p.maxFee).
			Msg("spendable outputs low and none large enough to split")
		plan.Degraded = true
		return plan, nil
	}

	half := (amount + 1) / 2
	plan.Outputs = []ledger.Output{
		{Address: p.opts.Identity, Amount: half},
		{Address: p.opts.Identity, Amount: amount - half},
	}
	plan.Split = amount
	p.logger.Warn().Int("available", plan.Available).Int64("amount", amount).Msg("splitting spendable output")
	return plan, nil
}

func (p *Provisioner) estimate(ctx context.Context) (int, error) {
	snap, err := p.reader.CapacitySnapshot(ctx, p.opts.Identity, p.maxFee)
	if err != nil {
		return 0, fmt.Errorf("query capacity snapshot: %w", err)
	}

	available := snap.LargeOutputs
	if p.maxFee > 0 {
		available += int((snap.SmallOutputsTotal + snap.FeeIncomeTotal) / p.maxFee)
	}

	p.logger.Debug().Int("large_outputs", snap.LargeOutputs).
		Int64("small_total", snap.SmallOutputsTotal).
		Int64("fee_income", snap.FeeIncomeTotal).
		Int("available", available).
		Msg("posting capacity recomputed")
	return available, nil
}
