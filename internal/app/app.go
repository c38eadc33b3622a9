package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"price-oracle/internal/alerting"
	"price-oracle/internal/config"
	"price-oracle/internal/fetcher"
	"price-oracle/internal/history"
	"price-oracle/internal/metrics"
	"price-oracle/internal/movingavg"
	"price-oracle/internal/provision"
	"price-oracle/internal/scheduler"
	"price-oracle/internal/service"
	"price-oracle/internal/storage"
	"price-oracle/internal/version"
	"price-oracle/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources() []fetcher.Source {
	cfg := a.Config.Sources
	breaker := fetcher.BreakerOptions{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
	}

	build := map[string]func() fetcher.Source{}
	if cfg.Bitfinex.Enabled {
		build["bitfinex"] = func() fetcher.Source { return fetcher.NewBitfinex(httpOptions(cfg.Bitfinex), a.Logger) }
	}
	if cfg.Binance.Enabled {
		build["binance"] = func() fetcher.Source { return fetcher.NewBinance(httpOptions(cfg.Binance), a.Logger) }
	}
	if cfg.CoinMarketCap.Enabled {
		build["coinmarketcap"] = func() fetcher.Source {
			return fetcher.NewCoinMarketCap(httpOptions(cfg.CoinMarketCap), a.Logger)
		}
	}
	if cfg.Frankfurter.Enabled {
		build["frankfurter"] = func() fetcher.Source { return fetcher.NewFrankfurter(httpOptions(cfg.Frankfurter), a.Logger) }
	}
	if cfg.EVM.Enabled {
		build["evm"] = func() fetcher.Source { return fetcher.NewUniswapPair(poolOptions(cfg.EVM), a.Logger) }
	}

	sources := make([]fetcher.Source, 0, len(build))
	for _, name := range cfg.Order {
		ctor, ok := build[strings.ToLower(name)]
		if !ok {
			continue
		}
		sources = append(sources, fetcher.WithBreaker(ctor(), breaker, a.Logger))
		delete(build, strings.ToLower(name))
	}
	for name := range build {
		a.Logger.Warn().Str("source", name).Msg("enabled source missing from sources.order, ignored")
	}
	return sources
}

func httpOptions(cfg config.HTTPSourceConfig) fetcher.HTTPOptions {
	pairs := make([]fetcher.Pair, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairs = append(pairs, fetcher.Pair{Series: p.Series, Symbol: p.Symbol})
	}
	return fetcher.HTTPOptions{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.RequestTimeout,
		UserAgent:         version.UserAgent(),
		RequestsPerMinute: cfg.RequestsPerMinute,
		Pairs:             pairs,
	}
}

func poolOptions(cfg config.EVMSourceConfig) fetcher.PoolOptions {
	pools := make([]fetcher.Pool, 0, len(cfg.Pools))
	for _, p := range cfg.Pools {
		pools = append(pools, fetcher.Pool{
			Series:       p.Series,
			PairAddress:  p.PairAddress,
			TokenAddress: p.TokenAddress,
			Decimals0:    p.Decimals0,
			Decimals1:    p.Decimals1,
		})
	}
	return fetcher.PoolOptions{Name: cfg.Name, RPCURL: cfg.RPCURL, Timeout: cfg.RequestTimeout, Pools: pools}
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	return notifiers
}

func (a *App) newWallet() *wallet.Client {
	return wallet.NewClient(wallet.Options{
		URL:              a.Config.Wallet.RPCURL,
		Timeout:          a.Config.Wallet.RequestTimeout,
		SyncPollInterval: a.Config.Wallet.SyncPollInterval,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// resolveIdentity falls back to the single address of the wallet.
func (a *App) resolveIdentity(ctx context.Context, w *wallet.Client) (string, error) {
	if a.Config.Feed.Identity != "" {
		return a.Config.Feed.Identity, nil
	}
	addr, err := w.Address(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve feed identity from wallet: %w", err)
	}
	a.Logger.Info().Str("identity", addr).Msg("using single wallet address as feed identity")
	return addr, nil
}

func (a *App) newEngine() *movingavg.Engine {
	ma := a.Config.MovingAverage
	return movingavg.New(movingavg.Options{
		Series:     ma.Series,
		Length:     ma.Length,
		NameSuffix: ma.NameSuffix,
		BTCSuffix:  ma.BTCSuffix,
		BaseSuffix: ma.BaseSuffix,
		Digits:     a.Config.Feed.SignificantDigits,
	}, a.Logger)
}

func (a *App) formatter() service.Formatter {
	series := make(map[string]service.SeriesFormat, len(a.Config.Series))
	for _, s := range a.Config.Series {
		series[s.Name] = service.SeriesFormat{
			Policy:   s.Policy,
			Digits:   s.Digits,
			Decimals: s.Decimals,
			Scale:    s.Scale,
		}
	}
	return service.Formatter{DefaultDigits: a.Config.Feed.SignificantDigits, Series: series}
}

func (a *App) derived() []service.Derived {
	out := make([]service.Derived, 0, len(a.Config.Derived))
	for _, d := range a.Config.Derived {
		out = append(out, service.Derived{Name: d.Name, Base: d.Base, Quote: d.Quote})
	}
	return out
}

// feed bundles what a built service needs to be torn down.
type feed struct {
	svc      *service.Service
	identity string
	engine   *movingavg.Engine
	history  *history.Reconstructor
	close    func()
}

// openLedger opens the wallet database and resolves the feed identity.
func (a *App) openLedger(ctx context.Context, w *wallet.Client) (*storage.Store, string, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	identity, err := a.resolveIdentity(ctx, w)
	if err != nil {
		closeStore()
		return nil, "", nil, err
	}
	return store, identity, closeStore, nil
}

func (a *App) buildFeed(ctx context.Context, sched *scheduler.Scheduler, m *metrics.Metrics, dryRun bool) (*feed, error) {
	w := a.newWallet()
	store, identity, closeStore, err := a.openLedger(ctx, w)
	if err != nil {
		return nil, err
	}

	engine := a.newEngine()
	hist := history.New(store, identity, a.Logger)
	prov := provision.New(store, provision.Options{
		Identity:     identity,
		MinAvailable: a.Config.Provisioning.MinAvailablePostings,
		InitialFee:   a.Config.Provisioning.InitialFee,
	}, a.Logger)

	svc := service.New(service.Options{
		Identity:       identity,
		AppTag:         a.Config.Feed.AppTag,
		MaxConcurrency: a.Config.Feed.MaxConcurrency,
		Format:         a.formatter(),
		Derived:        a.derived(),
		DryRun:         dryRun,
	}, sched, service.Deps{
		Sources:     a.newSources(),
		Outputs:     store,
		Writer:      w,
		History:     hist,
		Engine:      engine,
		Provisioner: prov,
		Alerts:      alerting.NewDispatcher(a.newNotifier(), 15*time.Second, a.Logger),
		Metrics:     m,
	}, a.Logger)

	return &feed{svc: svc, identity: identity, engine: engine, history: hist, close: closeStore}, nil
}

// healthMaxAge allows three missed cycles, each as late as the jitter permits,
// after the startup delay.
func healthMaxAge(cfg config.SchedulerConfig) time.Duration {
	return 3*(cfg.Interval+cfg.Jitter) + cfg.StartupDelay
}

// Run executes the long-running feed service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Jitter:       a.Config.Scheduler.Jitter,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var m *metrics.Metrics
	if a.Config.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		srv := metrics.NewServer(a.Config.Metrics.Addr, reg, m, healthMaxAge(a.Config.Scheduler), a.Logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	f, err := a.buildFeed(ctx, sched, m, false)
	if err != nil {
		return err
	}
	defer f.close()

	a.Logger.Info().Str("identity", f.identity).Msg("starting data feed")
	err = f.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("data feed stopped")
	return nil
}

// ExportOptions hold parameters for exporting published history.
type ExportOptions struct {
	Series    []string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	// Length overrides moving_average.length when positive.
	Length int
}

// DryRunOptions configure the dry-run command.
type DryRunOptions struct {
	// SkipHistory leaves the moving average window empty instead of reading the ledger.
	SkipHistory bool
}
