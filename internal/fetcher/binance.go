package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Binance reads spot prices from the ticker/price endpoint.
type Binance struct {
	opts    HTTPOptions
	rest    *restClient
	logger  zerolog.Logger
	baseURL string
}

// NewBinance constructs a Binance source. Pair symbols are Binance market symbols such as BTCUSDT.
func NewBinance(opts HTTPOptions, logger zerolog.Logger) *Binance {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com/api/v3"
	}
	return &Binance{
		opts:    opts,
		rest:    newRESTClient("binance", opts),
		logger:  logger.With().Str("component", "source_binance").Logger(),
		baseURL: baseURL,
	}
}

// Name implements Source.
func (b *Binance) Name() string { return "binance" }

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Fetch implements Source.
func (b *Binance) Fetch(ctx context.Context) (Observations, error) {
	if len(b.opts.Pairs) == 0 {
		return nil, fmt.Errorf("binance: %w", ErrNotConfigured)
	}

	index := symbolIndex(b.opts.Pairs)
	symbols := make([]string, 0, len(index))
	for symbol := range index {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, fmt.Errorf("binance: encode symbols: %w", err)
	}
	endpoint := fmt.Sprintf("%s/ticker/price?symbols=%s", b.baseURL, url.QueryEscape(string(encoded)))

	var tickers []binanceTicker
	if err := b.rest.getJSON(ctx, endpoint, nil, &tickers); err != nil {
		return nil, err
	}

	out := make(Observations, len(b.opts.Pairs))
	for _, ticker := range tickers {
		price, err := decimal.NewFromString(ticker.Price)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", ticker.Symbol).Msg("unparseable price")
			continue
		}
		for _, series := range index[ticker.Symbol] {
			out[series] = price
		}
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("binance: %w", ErrNoPrices)
	}
	return out, nil
}

var _ Source = (*Binance)(nil)
