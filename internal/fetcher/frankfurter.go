package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Frankfurter reads ECB reference rates. Pair symbols take the form BASE:QUOTE, e.g. EUR:USD.
type Frankfurter struct {
	opts    HTTPOptions
	rest    *restClient
	logger  zerolog.Logger
	baseURL string
}

// NewFrankfurter constructs a fiat rate source.
func NewFrankfurter(opts HTTPOptions, logger zerolog.Logger) *Frankfurter {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.frankfurter.app"
	}
	return &Frankfurter{
		opts:    opts,
		rest:    newRESTClient("frankfurter", opts),
		logger:  logger.With().Str("component", "source_frankfurter").Logger(),
		baseURL: baseURL,
	}
}

// Name implements Source.
func (f *Frankfurter) Name() string { return "frankfurter" }

type frankfurterResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// Fetch implements Source.
func (f *Frankfurter) Fetch(ctx context.Context) (Observations, error) {
	if len(f.opts.Pairs) == 0 {
		return nil, fmt.Errorf("frankfurter: %w", ErrNotConfigured)
	}

	type leg struct{ quote, series string }
	byBase := make(map[string][]leg)
	for _, p := range f.opts.Pairs {
		base, quote, ok := strings.Cut(p.Symbol, ":")
		if !ok || base == "" || quote == "" {
			return nil, fmt.Errorf("frankfurter: symbol %q must be BASE:QUOTE: %w", p.Symbol, ErrNotConfigured)
		}
		base = strings.ToUpper(base)
		byBase[base] = append(byBase[base], leg{quote: strings.ToUpper(quote), series: p.Series})
	}

	bases := make([]string, 0, len(byBase))
	for base := range byBase {
		bases = append(bases, base)
	}
	sort.Strings(bases)

	out := make(Observations, len(f.opts.Pairs))
	var lastErr error
	for _, base := range bases {
		legs := byBase[base]
		quotes := make([]string, 0, len(legs))
		for _, l := range legs {
			quotes = append(quotes, l.quote)
		}

		query := url.Values{}
		query.Set("from", base)
		query.Set("to", strings.Join(quotes, ","))
		endpoint := fmt.Sprintf("%s/latest?%s", f.baseURL, query.Encode())

		var resp frankfurterResponse
		if err := f.rest.getJSON(ctx, endpoint, nil, &resp); err != nil {
			f.logger.Warn().Err(err).Str("base", base).Msg("rate request failed")
			lastErr = err
			continue
		}
		for _, l := range legs {
			rate, ok := resp.Rates[l.quote]
			if !ok {
				continue
			}
			out[l.series] = decimal.NewFromFloat(rate)
		}
	}

	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("frankfurter: %w", ErrNoPrices)
	}
	return out, nil
}

var _ Source = (*Frankfurter)(nil)
