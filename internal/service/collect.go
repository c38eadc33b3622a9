package service

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-oracle/internal/fetcher"
	"price-oracle/internal/record"
)

// Derived is a cross series computed as Base × Quote, e.g. GBYTE_USD from
// GBYTE_BTC and BTC_USD, when a source did not report it directly.
type Derived struct {
	Name  string
	Base  string
	Quote string
}

type fetchResult struct {
	source string
	obs    fetcher.Observations
	err    error
}

// Collect fetches every source concurrently and reduces the observations into
// formatted record values. A failing source only loses its own fields.
func (s *Service) Collect(ctx context.Context, log zerolog.Logger) record.Values {
	raw := s.fetchAll(ctx, log)
	s.derive(raw, log)
	return s.opts.Format.Apply(raw, log)
}

func (s *Service) fetchAll(ctx context.Context, log zerolog.Logger) fetcher.Observations {
	results := make([]fetchResult, len(s.deps.Sources))

	var g errgroup.Group
	g.SetLimit(s.opts.MaxConcurrency)
	for i, src := range s.deps.Sources {
		g.Go(func() error {
			obs, err := src.Fetch(ctx)
			results[i] = fetchResult{source: src.Name(), obs: obs, err: err}
			return nil
		})
	}
	_ = g.Wait()

	merged := make(fetcher.Observations)
	for _, res := range results {
		s.deps.Metrics.RecordSourceFetch(res.source, res.err)
		if res.err != nil {
			log.Warn().Err(res.err).Str("source", res.source).Msg("source fetch failed, fields omitted")
			continue
		}
		added := 0
		for name, value := range res.obs {
			if _, taken := merged[name]; taken {
				continue
			}
			merged[name] = value
			added++
		}
		log.Debug().Str("source", res.source).Int("observations", len(res.obs)).Int("merged", added).Msg("source fetched")
	}
	return merged
}

func (s *Service) derive(obs fetcher.Observations, log zerolog.Logger) {
	for _, d := range s.opts.Derived {
		if _, ok := obs[d.Name]; ok {
			continue
		}
		base, okBase := obs[d.Base]
		quote, okQuote := obs[d.Quote]
		if !okBase || !okQuote {
			log.Debug().Str("series", d.Name).Msg("derived series legs missing")
			continue
		}
		obs[d.Name] = base.Mul(quote)
	}
}
