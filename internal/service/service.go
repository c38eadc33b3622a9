package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-oracle/internal/alerting"
	"price-oracle/internal/changefilter"
	"price-oracle/internal/fetcher"
	"price-oracle/internal/history"
	"price-oracle/internal/ledger"
	"price-oracle/internal/metrics"
	"price-oracle/internal/movingavg"
	"price-oracle/internal/provision"
	"price-oracle/internal/record"
	"price-oracle/internal/scheduler"
)

// ErrNoSpendableOutputs is returned when the identity has nothing left to pay with.
var ErrNoSpendableOutputs = errors.New("no spendable outputs")

// Options carry the feed settings the orchestrator needs.
type Options struct {
	Identity       string
	AppTag         string
	MaxConcurrency int
	Format         Formatter
	Derived        []Derived
	// DryRun composes records without provisioning or submitting them.
	DryRun bool
}

// Deps are the collaborators of the orchestrator. Sources are merged in slice order.
type Deps struct {
	Sources     []fetcher.Source
	Outputs     ledger.OutputReader
	Writer      ledger.Writer
	History     *history.Reconstructor
	Engine      *movingavg.Engine
	Filter      *changefilter.Filter
	Provisioner *provision.Provisioner
	Alerts      *alerting.Dispatcher
	Metrics     *metrics.Metrics
	Clock       func() time.Time
}

// Cycle summarises one pass of the feed loop.
type Cycle struct {
	ID        string
	Outcome   string
	Gathered  record.Values
	Published record.Values
	Record    record.Record
	Plan      provision.Plan
	Receipt   ledger.Receipt
}

// Service orchestrates gathering, filtering, provisioning and submission.
// Its state is touched only by the goroutine running cycles.
type Service struct {
	scheduler *scheduler.Scheduler
	opts      Options
	deps      Deps
	logger    zerolog.Logger
}

// New constructs the feed service.
func New(opts Options, sched *scheduler.Scheduler, deps Deps, logger zerolog.Logger) *Service {
	if opts.AppTag == "" {
		opts.AppTag = "data_feed"
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = len(deps.Sources)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.Filter == nil {
		var keep []string
		if deps.Engine != nil {
			keep = deps.Engine.Series()
		}
		deps.Filter = changefilter.New(keep)
	}
	return &Service{
		scheduler: sched,
		opts:      opts,
		deps:      deps,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Start waits for the wallet to sync and rebuilds the moving average window
// from the ledger. A history inconsistency is returned as is and must stop the process.
func (s *Service) Start(ctx context.Context) error {
	if s.deps.Writer != nil {
		if err := s.deps.Writer.WaitUntilSynced(ctx); err != nil {
			return fmt.Errorf("wait for wallet sync: %w", err)
		}
	}

	engine := s.deps.Engine
	if engine == nil || !engine.Enabled() || s.deps.History == nil {
		s.logger.Info().Msg("moving average disabled, skipping history reconstruction")
		return nil
	}

	rows, err := s.deps.History.Reconstruct(ctx, engine.Series(), engine.Length())
	if err != nil {
		return fmt.Errorf("reconstruct moving average window: %w", err)
	}
	engine.Seed(rows)
	s.logger.Info().Int("rows", len(rows)).Int("length", engine.Length()).Msg("moving average window restored")
	return nil
}

// Run starts the service and drives cycles until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	return s.scheduler.Run(ctx, s.tick)
}

func (s *Service) tick(ctx context.Context, started time.Time) error {
	_, err := s.RunCycle(ctx, started)
	return err
}

// RunCycle 执行一次完整的采集与发布流程。
func (s *Service) RunCycle(ctx context.Context, started time.Time) (Cycle, error) {
	cycle := Cycle{ID: uuid.NewString(), Outcome: metrics.OutcomeFailed}
	log := s.logger.With().Str("cycle_id", cycle.ID).Logger()
	defer func() {
		s.deps.Metrics.RecordCycle(cycle.Outcome, time.Since(started))
	}()

	if !s.opts.DryRun && s.deps.Outputs != nil {
		ok, err := s.deps.Outputs.HasSpendableOutputs(ctx, s.opts.Identity)
		if err != nil {
			return cycle, fmt.Errorf("check spendable outputs: %w", err)
		}
		if !ok {
			s.notify(cycle.ID, alerting.LevelCritical, "No spendable outputs",
				fmt.Sprintf("identity %s has no unspent outputs, feed paused", s.opts.Identity), nil)
			return cycle, ErrNoSpendableOutputs
		}
	}

	gathered := s.Collect(ctx, log)
	cycle.Gathered = gathered
	if len(gathered) == 0 {
		log.Info().Msg("no values gathered, nothing to publish")
		cycle.Outcome = metrics.OutcomeSkipped
		return cycle, nil
	}

	published := s.deps.Filter.Apply(gathered)
	if s.deps.Engine != nil {
		published = s.deps.Engine.Apply(published)
	}
	cycle.Published = published
	if len(published) == 0 {
		log.Info().Int("gathered", len(gathered)).Msg("nothing changed since last cycle")
		cycle.Outcome = metrics.OutcomeSkipped
		return cycle, nil
	}

	rec, err := record.Stamp(published, s.deps.Clock())
	if err != nil {
		return cycle, fmt.Errorf("stamp record: %w", err)
	}
	cycle.Record = rec

	if s.opts.DryRun {
		log.Info().Int("fields", len(rec.Values)).Str("hash", rec.Hash).Msg("dry run, record not submitted")
		cycle.Outcome = metrics.OutcomeDryRun
		return cycle, nil
	}

	plan, err := s.deps.Provisioner.EnsureCapacity(ctx)
	if err != nil {
		s.notify(cycle.ID, alerting.LevelWarning, "Provisioning failed", err.Error(), nil)
		return cycle, fmt.Errorf("ensure capacity: %w", err)
	}
	cycle.Plan = plan
	s.deps.Metrics.RecordProvisioning(plan.Available, plan.Split > 0)
	if plan.Degraded {
		s.notify(cycle.ID, alerting.LevelWarning, "Low spendable capacity",
			"no output is large enough to split, publishing anyway",
			map[string]string{
				"available": fmt.Sprint(plan.Available),
				"max_fee":   fmt.Sprint(s.deps.Provisioner.MaxFee()),
			})
	}

	receipt, err := s.deps.Writer.ComposeAndSubmit(ctx, s.opts.Identity, plan.Outputs, rec.Message(s.opts.AppTag))
	if err != nil {
		title := "Submission failed"
		if errors.Is(err, ledger.ErrNotEnoughFunds) {
			title = "Not enough funds"
		}
		s.notify(cycle.ID, alerting.LevelCritical, title, err.Error(), nil)
		return cycle, fmt.Errorf("submit record: %w", err)
	}
	cycle.Receipt = receipt

	s.deps.Provisioner.RecordFee(receipt.Fee())
	s.deps.Metrics.RecordPublication(len(rec.Values), s.deps.Provisioner.MaxFee())
	cycle.Outcome = metrics.OutcomePublished

	log.Info().Str("unit", receipt.Unit).
		Int("fields", len(rec.Values)).
		Int64("fee", receipt.Fee()).
		Int("outputs", len(plan.Outputs)).
		Msg("record published")
	return cycle, nil
}

func (s *Service) notify(cycleID string, level alerting.Level, title, message string, fields map[string]string) {
	s.deps.Alerts.Dispatch(alerting.Notification{
		Level:   level,
		Title:   title,
		Message: message,
		CycleID: cycleID,
		Fields:  fields,
	})
}
