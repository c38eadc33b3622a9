package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"price-oracle/internal/history"
)

// seriesHistory is the published history of one series, oldest first.
type seriesHistory struct {
	Name   string
	Points []history.Point
}

// Export renders the published history of series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if len(opts.Series) == 0 {
		opts.Series = a.Config.MovingAverage.Series
	}
	if len(opts.Series) == 0 {
		return errors.New("no series to export; pass --series")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, identity, closeStore, err := a.openLedger(ctx, a.newWallet())
	if err != nil {
		return err
	}
	defer closeStore()

	walker := history.New(store, identity, a.Logger)
	histories := make([]seriesHistory, 0, len(opts.Series))
	total := 0
	for _, name := range opts.Series {
		points, err := walker.Walk(ctx, name, opts.MaxPoints)
		if err != nil {
			return err
		}
		slices.Reverse(points)
		histories = append(histories, seriesHistory{Name: name, Points: points})
		total += len(points)
	}
	if total == 0 {
		a.Logger.Info().Str("identity", identity).Msg("no published values found for export")
		return nil
	}
	a.Logger.Info().Int("series", len(histories)).Int("points", total).Msg("exporting published history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, histories); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, histories); err != nil {
			return err
		}
	}

	return nil
}

func downsamplePoints(points []history.Point, max int) []history.Point {
	if max <= 1 || len(points) <= max {
		return points
	}

	result := make([]history.Point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writeHistoryCSV(path string, histories []seriesHistory) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"series", "position", "value"}); err != nil {
		return err
	}

	for _, h := range histories {
		for _, p := range h.Points {
			if err := writer.Write([]string{h.Name, strconv.FormatInt(p.Position, 10), p.Value}); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// writeHistoryPNG plots every series against its ledger position. Each series
// is downsampled to at most 500 points.
func writeHistoryPNG(path string, histories []seriesHistory) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	series := make([]chart.Series, 0, len(histories))
	for _, h := range histories {
		points := downsamplePoints(h.Points, 500)
		if len(points) < 2 {
			continue
		}
		x := make([]float64, 0, len(points))
		y := make([]float64, 0, len(points))
		for _, p := range points {
			v, err := decimal.NewFromString(p.Value)
			if err != nil {
				return fmt.Errorf("series %s position %d: %w", h.Name, p.Position, err)
			}
			x = append(x, float64(p.Position))
			y = append(y, v.InexactFloat64())
		}
		series = append(series, chart.ContinuousSeries{Name: h.Name, XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return errors.New("not enough points to plot")
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.6g")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Ledger position",
			ValueFormatter: chart.IntValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Value",
			ValueFormatter: valueFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
