package app

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-oracle/internal/config"
	"price-oracle/internal/history"
	"price-oracle/internal/movingavg"
	"price-oracle/internal/record"
	"price-oracle/internal/service"
)

func testApp(cfg *config.Config) *App {
	return NewApp(cfg, zerolog.Nop())
}

func TestNewSourcesFollowsOrder(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sources.Order = []string{"binance", "bitfinex", "evm"}
	cfg.Sources.Bitfinex.Enabled = true
	cfg.Sources.Binance.Enabled = true
	cfg.Sources.Frankfurter.Enabled = true

	sources := testApp(cfg).newSources()
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Name() != "binance" || sources[1].Name() != "bitfinex" {
		t.Fatalf("unexpected order %s, %s", sources[0].Name(), sources[1].Name())
	}
}

func TestFormatterFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Feed.SignificantDigits = 6
	cfg.Series = []config.SeriesConfig{{Name: "EUR_USD", Policy: "fixed", Decimals: 4}}

	f := testApp(cfg).formatter()
	if f.DefaultDigits != 6 {
		t.Fatalf("expected 6 default digits, got %d", f.DefaultDigits)
	}
	if got := f.Series["EUR_USD"]; got != (service.SeriesFormat{Policy: "fixed", Decimals: 4}) {
		t.Fatalf("unexpected series format %+v", got)
	}
}

func TestRenderWindow(t *testing.T) {
	engine := movingavg.New(movingavg.Options{Series: []string{"A_USD"}, Length: 2}, zerolog.Nop())
	engine.Seed([]record.Values{{"A_USD": "1"}, {"A_USD": "2"}})

	var buf bytes.Buffer
	if err := renderWindow(&buf, "ADDR", engine); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "A_USD") || !strings.Contains(out, "1.5") {
		t.Fatalf("window output missing values:\n%s", out)
	}
}

func TestRenderWindowEmpty(t *testing.T) {
	engine := movingavg.New(movingavg.Options{Series: []string{"A_USD"}, Length: 2}, zerolog.Nop())

	var buf bytes.Buffer
	if err := renderWindow(&buf, "ADDR", engine); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "no published values") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestDownsamplePointsKeepsEnds(t *testing.T) {
	points := make([]history.Point, 10)
	for i := range points {
		points[i] = history.Point{Value: "1", Position: int64(i)}
	}
	got := downsamplePoints(points, 4)
	if len(got) != 4 || got[0].Position != 0 || got[3].Position != 9 {
		t.Fatalf("unexpected downsample %+v", got)
	}
	if len(downsamplePoints(points, 20)) != 10 {
		t.Fatal("short input must be returned as is")
	}
}

func TestWriteHistoryCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.csv")
	err := writeHistoryCSV(path, []seriesHistory{{Name: "A_USD", Points: []history.Point{{Value: "1.5", Position: 7}}}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(body) != "series,position,value\nA_USD,7,1.5\n" {
		t.Fatalf("unexpected csv %q", body)
	}
}

func TestHealthMaxAgeCoversJitter(t *testing.T) {
	cfg := config.SchedulerConfig{Interval: 5 * time.Minute, Jitter: 2 * time.Minute, StartupDelay: time.Minute}
	if got, want := healthMaxAge(cfg), 22*time.Minute; got != want {
		t.Fatalf("healthMaxAge = %s, want %s", got, want)
	}

	cfg.Jitter = 0
	if got, want := healthMaxAge(cfg), 16*time.Minute; got != want {
		t.Fatalf("healthMaxAge without jitter = %s, want %s", got, want)
	}
}
