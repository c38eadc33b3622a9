package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const bitfinexLastPriceIndex = 7

// Bitfinex reads last trade prices from the public tickers endpoint.
type Bitfinex struct {
	opts    HTTPOptions
	rest    *restClient
	logger  zerolog.Logger
	baseURL string
}

// NewBitfinex constructs a Bitfinex source. Pair symbols are Bitfinex ticker ids such as tBTCUSD.
func NewBitfinex(opts HTTPOptions, logger zerolog.Logger) *Bitfinex {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api-pub.bitfinex.com/v2"
	}
	return &Bitfinex{
		opts:    opts,
		rest:    newRESTClient("bitfinex", opts),
		logger:  logger.With().Str("component", "source_bitfinex").Logger(),
		baseURL: baseURL,
	}
}

// Name implements Source.
func (b *Bitfinex) Name() string { return "bitfinex" }

// Fetch implements Source.
func (b *Bitfinex) Fetch(ctx context.Context) (Observations, error) {
	if len(b.opts.Pairs) == 0 {
		return nil, fmt.Errorf("bitfinex: %w", ErrNotConfigured)
	}

	index := symbolIndex(b.opts.Pairs)
	symbols := make([]string, 0, len(index))
	for symbol := range index {
		symbols = append(symbols, symbol)
	}

	endpoint := fmt.Sprintf("%s/tickers?symbols=%s", b.baseURL, url.QueryEscape(strings.Join(symbols, ",")))

	// Each ticker is [SYMBOL, BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE, LAST_PRICE, ...].
	var tickers [][]any
	if err := b.rest.getJSON(ctx, endpoint, nil, &tickers); err != nil {
		return nil, err
	}

	out := make(Observations, len(b.opts.Pairs))
	for _, ticker := range tickers {
		if len(ticker) <= bitfinexLastPriceIndex {
			b.logger.Warn().Interface("ticker", ticker).Msg("invalid ticker format")
			continue
		}
		symbol, ok := ticker[0].(string)
		if !ok {
			continue
		}
		last, ok := ticker[bitfinexLastPriceIndex].(float64)
		if !ok {
			continue
		}
		for _, series := range index[symbol] {
			out[series] = decimal.NewFromFloat(last)
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("bitfinex: %w", ErrNoPrices)
	}
	return out, nil
}

var _ Source = (*Bitfinex)(nil)
