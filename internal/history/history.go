// Package history rebuilds the moving average window from values the oracle
// published earlier. The ledger is the only source of truth; nothing is cached
// locally between restarts.
package history

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"price-oracle/internal/ledger"
	"price-oracle/internal/record"
)

// ErrHistoryInconsistency is returned when the ledger reports a published value without a position.
var ErrHistoryInconsistency = errors.New("history: published value has no ledger position")

// Point is one published value of a series.
type Point struct {
	Value    string
	Position int64
}

// Reconstructor walks published values backwards through the ledger.
type Reconstructor struct {
	reader   ledger.SeriesReader
	identity string
	logger   zerolog.Logger
}

// New builds a Reconstructor reading values published by identity.
func New(reader ledger.SeriesReader, identity string, logger zerolog.Logger) *Reconstructor {
	return &Reconstructor{
		reader:   reader,
		identity: identity,
		logger:   logger.With().Str("component", "history").Logger(),
	}
}

// Walk returns up to limit published values of series, newest first.
func (r *Reconstructor) Walk(ctx context.Context, series string, limit int) ([]Point, error) {
	points := make([]Point, 0, max(limit, 0))
	cursor := ledger.MaxPosition

	for len(points) < limit {
		value, found, err := r.reader.LastValueOfSeries(ctx, r.identity, series, cursor)
		if err != nil {
			return nil, fmt.Errorf("lookup %s below %d: %w", series, cursor, err)
		}
		if !found {
			break
		}
		if value.Position == nil {
			return nil, fmt.Errorf("%w: series %s value %s", ErrHistoryInconsistency, series, value.Value)
		}

		points = append(points, Point{Value: value.Value, Position: *value.Position})
		cursor = *value.Position - 1
		if cursor < 0 {
			break
		}
	}

	return points, nil
}

// Reconstruct returns at most windowSize rows of the tracked series, oldest first.
// Row i holds the i-th most recent value of every series that has one; the walk
// stops at the first row no series reaches.
func (r *Reconstructor) Reconstruct(ctx context.Context, series []string, windowSize int) ([]record.Values, error) {
	if windowSize <= 0 || len(series) == 0 {
		return nil, nil
	}

	columns := make(map[string][]Point, len(series))
	for _, name := range series {
		points, err := r.Walk(ctx, name, windowSize)
		if err != nil {
			return nil, err
		}
		columns[name] = points
		r.logger.Debug().Str("series", name).Int("found", len(points)).Msg("series history loaded")
	}

	window := make([]record.Values, 0, windowSize)
	for i := 0; i < windowSize; i++ {
		row := make(record.Values, len(series))
		for _, name := range series {
			if points := columns[name]; i < len(points) {
				row[name] = points[i].Value
			}
		}
		if len(row) == 0 {
			break
		}
		window = append(window, row)
	}

	slices.Reverse(window)

	r.logger.Info().Int("rows", len(window)).Int("window", windowSize).Msg("moving average window reconstructed")
	return window, nil
}
