package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnexpectedStatus wraps non-200 responses from a price API.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrRateLimited is returned on HTTP 429.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNoPrices indicates a response without any configured pair.
	ErrNoPrices = errors.New("no prices in response")
	// ErrNotConfigured indicates a source without pairs or endpoints.
	ErrNotConfigured = errors.New("source not configured")
)

// Observations maps series names to raw values gathered by one source.
type Observations map[string]decimal.Decimal

// Source retrieves raw observations from one market data provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Observations, error)
}

// Pair maps a provider symbol onto a series name.
type Pair struct {
	Series string
	Symbol string
}

// HTTPOptions parameterise REST sources.
type HTTPOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute float64
	Pairs             []Pair
}

func symbolIndex(pairs []Pair) map[string][]string {
	index := make(map[string][]string, len(pairs))
	for _, p := range pairs {
		index[p.Symbol] = append(index[p.Symbol], p.Series)
	}
	return index
}
