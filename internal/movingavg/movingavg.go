// Package movingavg maintains the sliding window of published values and
// derives the moving average fields injected into each record.
package movingavg

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-oracle/internal/precision"
	"price-oracle/internal/record"
)

const (
	btcPlaces  int32 = 8
	basePlaces int32 = 9
)

// Options configure the engine.
type Options struct {
	Series     []string
	Length     int
	NameSuffix string
	BTCSuffix  string
	BaseSuffix string
	Digits     int
}

// Engine keeps up to Length rows of the tracked series, oldest first.
type Engine struct {
	opts   Options
	window []record.Values
	logger zerolog.Logger
}

// New constructs an Engine with an empty window.
func New(opts Options, logger zerolog.Logger) *Engine {
	if opts.NameSuffix == "" {
		opts.NameSuffix = "_MA"
	}
	if opts.Digits == 0 {
		opts.Digits = precision.DefaultDigits
	}
	return &Engine{
		opts:   opts,
		logger: logger.With().Str("component", "moving_average").Logger(),
	}
}

// Enabled reports whether any series is tracked over a positive window.
func (e *Engine) Enabled() bool {
	return len(e.opts.Series) > 0 && e.opts.Length > 0
}

// Series returns the tracked series names.
func (e *Engine) Series() []string {
	return append([]string(nil), e.opts.Series...)
}

// Length is the configured window depth.
func (e *Engine) Length() int {
	return e.opts.Length
}

// AverageName is the record key under which the average of series is published.
func (e *Engine) AverageName(series string) string {
	return series + e.opts.NameSuffix
}

// Seed replaces the window with rows rebuilt from the ledger, oldest first.
func (e *Engine) Seed(rows []record.Values) {
	e.window = e.window[:0]
	for _, row := range rows {
		if tracked := e.tracked(row); len(tracked) > 0 {
			e.push(tracked)
		}
	}
}

// Window returns a copy of the current rows, oldest first.
func (e *Engine) Window() []record.Values {
	out := make([]record.Values, len(e.window))
	for i, row := range e.window {
		out[i] = row.Clone()
	}
	return out
}

// Observe appends the tracked fields of values to the window. It returns false
// and leaves the window untouched when the engine is disabled or values lacks
// a tracked series.
func (e *Engine) Observe(values record.Values) bool {
	if !e.Enabled() {
		e.logger.Debug().Msg("moving average not configured, skipping")
		return false
	}
	for _, name := range e.opts.Series {
		if _, ok := values[name]; !ok {
			e.logger.Info().Str("series", name).Msg("record lacks tracked series, moving average skipped")
			return false
		}
	}
	e.push(e.tracked(values))
	return true
}

// Averages returns the formatted moving average of every series covered by a full window.
func (e *Engine) Averages() record.Values {
	out := make(record.Values)
	if !e.Enabled() || len(e.window) < e.opts.Length {
		return out
	}

	oldest := e.window[0]
	for _, name := range e.opts.Series {
		if _, ok := oldest[name]; !ok {
			continue
		}
		mean, ok := e.mean(name)
		if !ok {
			continue
		}
		formatted, err := e.format(name, mean)
		if err != nil {
			e.logger.Error().Err(err).Str("series", name).Msg("format moving average")
			continue
		}
		out[e.AverageName(name)] = formatted
	}
	return out
}

// Apply observes values and returns a copy extended with the current averages.
func (e *Engine) Apply(values record.Values) record.Values {
	out := values.Clone()
	if !e.Observe(values) {
		return out
	}
	for name, avg := range e.Averages() {
		out[name] = avg
	}
	return out
}

func (e *Engine) mean(series string) (decimal.Decimal, bool) {
	sum := decimal.Zero
	count := 0
	for _, row := range e.window {
		raw, ok := row[series]
		if !ok {
			continue
		}
		value, err := decimal.NewFromString(raw)
		if err != nil {
			e.logger.Warn().Err(err).Str("series", series).Str("value", raw).Msg("unparseable window value")
			return decimal.Decimal{}, false
		}
		sum = sum.Add(value)
		count++
	}
	if count == 0 {
		return decimal.Decimal{}, false
	}
	return sum.Div(decimal.NewFromInt(int64(count))), true
}

func (e *Engine) format(series string, mean decimal.Decimal) (string, error) {
	switch {
	case e.opts.BTCSuffix != "" && strings.HasSuffix(series, e.opts.BTCSuffix):
		return precision.Fixed(mean, btcPlaces), nil
	case e.opts.BaseSuffix != "" && strings.HasSuffix(series, e.opts.BaseSuffix):
		return precision.Fixed(mean, basePlaces), nil
	default:
		return precision.FormatDecimal(mean, e.opts.Digits)
	}
}

func (e *Engine) tracked(values record.Values) record.Values {
	row := make(record.Values, len(e.opts.Series))
	for _, name := range e.opts.Series {
		if v, ok := values[name]; ok {
			row[name] = v
		}
	}
	return row
}

func (e *Engine) push(row record.Values) {
	e.window = append(e.window, row)
	if over := len(e.window) - e.opts.Length; over > 0 {
		e.window = append(e.window[:0:0], e.window[over:]...)
	}
}
