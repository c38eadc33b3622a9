package service

import (
	"github.com/rs/zerolog"

	"price-oracle/internal/fetcher"
	"price-oracle/internal/precision"
	"price-oracle/internal/record"
)

// Formatting policies.
const (
	PolicySignificant = "significant"
	PolicyFixed       = "fixed"
)

// SeriesFormat is the formatting policy of one series.
type SeriesFormat struct {
	Policy   string
	Digits   int
	Decimals int32
	// Scale multiplies the raw value by 10^Scale before formatting.
	Scale int32
}

// Formatter turns raw observations into canonical decimal strings.
type Formatter struct {
	DefaultDigits int
	Series        map[string]SeriesFormat
}

// Apply formats every observation. Negative values and values the formatter
// rejects are dropped and logged.
func (f Formatter) Apply(obs fetcher.Observations, log zerolog.Logger) record.Values {
	out := make(record.Values, len(obs))
	for name, raw := range obs {
		sf := f.lookup(name)
		value := raw.Shift(sf.Scale)
		if value.Sign() < 0 {
			log.Warn().Str("series", name).Str("value", value.String()).Msg("negative value dropped")
			continue
		}

		if sf.Policy == PolicyFixed {
			out[name] = precision.Fixed(value, sf.Decimals)
			continue
		}
		formatted, err := precision.FormatDecimal(value, sf.Digits)
		if err != nil {
			log.Error().Err(err).Str("series", name).Msg("format value")
			continue
		}
		out[name] = formatted
	}
	return out
}

func (f Formatter) lookup(name string) SeriesFormat {
	digits := f.DefaultDigits
	if digits == 0 {
		digits = precision.DefaultDigits
	}
	sf, ok := f.Series[name]
	if !ok {
		return SeriesFormat{Policy: PolicySignificant, Digits: digits}
	}
	if sf.Policy == "" {
		sf.Policy = PolicySignificant
	}
	if sf.Digits == 0 {
		sf.Digits = digits
	}
	return sf
}
