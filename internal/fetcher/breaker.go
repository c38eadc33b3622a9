package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerOptions configure the circuit wrapped around each source.
type BreakerOptions struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Guarded is a Source whose failures trip a circuit breaker. While open,
// Fetch fails fast with gobreaker.ErrOpenState.
type Guarded struct {
	source Source
	cb     *gobreaker.CircuitBreaker
}

// WithBreaker wraps source in a circuit breaker.
func WithBreaker(source Source, opts BreakerOptions, logger zerolog.Logger) *Guarded {
	failures := opts.ConsecutiveFailures
	if failures == 0 {
		failures = 5
	}
	timeout := opts.OpenTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}

	log := logger.With().Str("component", "breaker").Str("source", source.Name()).Logger()
	st := gobreaker.Settings{Name: source.Name(), Timeout: timeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= failures }
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
	}

	return &Guarded{source: source, cb: gobreaker.NewCircuitBreaker(st)}
}

// Name implements Source.
func (g *Guarded) Name() string { return g.source.Name() }

// State reports the current breaker state.
func (g *Guarded) State() gobreaker.State { return g.cb.State() }

// Fetch implements Source.
func (g *Guarded) Fetch(ctx context.Context) (Observations, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.source.Fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	obs, _ := res.(Observations)
	return obs, nil
}

var _ Source = (*Guarded)(nil)
