package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"price-oracle/internal/history"
	"price-oracle/internal/movingavg"
	"price-oracle/internal/record"
)

// Show prints the moving average window rebuilt from the ledger and the
// averages the next cycle would start from.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, identity, closeStore, err := a.openLedger(ctx, a.newWallet())
	if err != nil {
		return err
	}
	defer closeStore()

	engine := a.newEngine()
	length := engine.Length()
	if opts.Length > 0 {
		length = opts.Length
		ma := a.Config.MovingAverage
		engine = movingavg.New(movingavg.Options{
			Series:     ma.Series,
			Length:     length,
			NameSuffix: ma.NameSuffix,
			BTCSuffix:  ma.BTCSuffix,
			BaseSuffix: ma.BaseSuffix,
			Digits:     a.Config.Feed.SignificantDigits,
		}, a.Logger)
	}
	if !engine.Enabled() {
		fmt.Fprintln(os.Stdout, "moving average not configured")
		return nil
	}

	rows, err := history.New(store, identity, a.Logger).Reconstruct(ctx, engine.Series(), length)
	if err != nil {
		return err
	}
	engine.Seed(rows)

	return renderWindow(os.Stdout, identity, engine)
}

func renderWindow(out io.Writer, identity string, engine *movingavg.Engine) error {
	series := engine.Series()
	window := engine.Window()
	if len(window) == 0 {
		fmt.Fprintf(out, "no published values found for %s\n", identity)
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "#\t%s\n", strings.Join(series, "\t"))
	for i, row := range window {
		fmt.Fprintf(writer, "%d\t%s\n", i+1, strings.Join(cells(row, series), "\t"))
	}

	averages := engine.Averages()
	names := make([]string, len(series))
	for i, name := range series {
		names[i] = engine.AverageName(name)
	}
	fmt.Fprintf(writer, "avg\t%s\n", strings.Join(cells(averages, names), "\t"))
	if len(window) < engine.Length() {
		fmt.Fprintf(writer, "\t(window %d/%d, averages start once full)\n", len(window), engine.Length())
	}
	return writer.Flush()
}

func cells(row record.Values, names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		if v, ok := row[name]; ok {
			out[i] = v
		} else {
			out[i] = "-"
		}
	}
	return out
}
