package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CoinMarketCap reads latest quotes from the pro API. Pair symbols take the
// form ASSET:CONVERT, e.g. GBYTE:USD.
type CoinMarketCap struct {
	opts    HTTPOptions
	rest    *restClient
	logger  zerolog.Logger
	baseURL string
}

// NewCoinMarketCap constructs a CoinMarketCap source.
func NewCoinMarketCap(opts HTTPOptions, logger zerolog.Logger) *CoinMarketCap {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://pro-api.coinmarketcap.com/v2"
	}
	return &CoinMarketCap{
		opts:    opts,
		rest:    newRESTClient("coinmarketcap", opts),
		logger:  logger.With().Str("component", "source_coinmarketcap").Logger(),
		baseURL: baseURL,
	}
}

// Name implements Source.
func (c *CoinMarketCap) Name() string { return "coinmarketcap" }

type cmcQuote struct {
	Symbol string `json:"symbol"`
	Quote  map[string]struct {
		Price *float64 `json:"price"`
	} `json:"quote"`
}

type cmcResponse struct {
	Data map[string]json.RawMessage `json:"data"`
}

// Fetch implements Source. One request is made per convert currency.
func (c *CoinMarketCap) Fetch(ctx context.Context) (Observations, error) {
	if len(c.opts.Pairs) == 0 {
		return nil, fmt.Errorf("coinmarketcap: %w", ErrNotConfigured)
	}
	if c.opts.APIKey == "" {
		return nil, fmt.Errorf("coinmarketcap: api key: %w", ErrNotConfigured)
	}

	groups, err := groupByConvert(c.opts.Pairs)
	if err != nil {
		return nil, err
	}

	converts := make([]string, 0, len(groups))
	for convert := range groups {
		converts = append(converts, convert)
	}
	sort.Strings(converts)

	header := http.Header{}
	header.Set("X-CMC_PRO_API_KEY", c.opts.APIKey)

	out := make(Observations, len(c.opts.Pairs))
	var lastErr error
	for _, convert := range converts {
		assets := groups[convert]
		symbols := make([]string, 0, len(assets))
		for asset := range assets {
			symbols = append(symbols, asset)
		}
		sort.Strings(symbols)

		query := url.Values{}
		query.Set("symbol", strings.Join(symbols, ","))
		query.Set("convert", convert)
		endpoint := fmt.Sprintf("%s/cryptocurrency/quotes/latest?%s", c.baseURL, query.Encode())

		var resp cmcResponse
		if err := c.rest.getJSON(ctx, endpoint, header, &resp); err != nil {
			c.logger.Warn().Err(err).Str("convert", convert).Msg("quote request failed")
			lastErr = err
			continue
		}

		for asset, series := range assets {
			quote, ok := decodeCMCQuote(resp.Data[asset])
			if !ok {
				continue
			}
			entry, ok := quote.Quote[convert]
			if !ok || entry.Price == nil {
				continue
			}
			for _, name := range series {
				out[name] = decimal.NewFromFloat(*entry.Price)
			}
		}
	}

	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("coinmarketcap: %w", ErrNoPrices)
	}
	return out, nil
}

// decodeCMCQuote accepts both the v2 array form and the v1 object form.
func decodeCMCQuote(raw json.RawMessage) (cmcQuote, bool) {
	if len(raw) == 0 {
		return cmcQuote{}, false
	}
	var list []cmcQuote
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return cmcQuote{}, false
		}
		return list[0], true
	}
	var single cmcQuote
	if err := json.Unmarshal(raw, &single); err != nil {
		return cmcQuote{}, false
	}
	return single, true
}

func groupByConvert(pairs []Pair) (map[string]map[string][]string, error) {
	groups := make(map[string]map[string][]string)
	for _, p := range pairs {
		asset, convert, ok := strings.Cut(p.Symbol, ":")
		if !ok || asset == "" || convert == "" {
			return nil, fmt.Errorf("coinmarketcap: symbol %q must be ASSET:CONVERT: %w", p.Symbol, ErrNotConfigured)
		}
		asset = strings.ToUpper(asset)
		convert = strings.ToUpper(convert)
		if groups[convert] == nil {
			groups[convert] = make(map[string][]string)
		}
		groups[convert][asset] = append(groups[convert][asset], p.Series)
	}
	return groups, nil
}

var _ Source = (*CoinMarketCap)(nil)
