package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"price-oracle/internal/logging"
	"price-oracle/internal/precision"
)

// Series formatting policies.
const (
	PolicySignificant = "significant"
	PolicyFixed       = "fixed"
)

// Config materialises application configuration.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Logging       logging.Config      `mapstructure:"logging"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Feed          FeedConfig          `mapstructure:"feed"`
	Series        []SeriesConfig      `mapstructure:"series"`
	MovingAverage MovingAverageConfig `mapstructure:"moving_average"`
	Provisioning  ProvisioningConfig  `mapstructure:"provisioning"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Derived       []DerivedConfig     `mapstructure:"derived"`
	Wallet        WalletConfig        `mapstructure:"wallet"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Export        ExportConfig        `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SchedulerConfig governs publication cadence.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Jitter       time.Duration `mapstructure:"jitter"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// FeedConfig describes the publishing identity and the record format.
type FeedConfig struct {
	// Identity is the publishing address. Empty asks the wallet for its single address.
	Identity          string `mapstructure:"identity"`
	AppTag            string `mapstructure:"app_tag"`
	SignificantDigits int    `mapstructure:"significant_digits"`
	MaxConcurrency    int    `mapstructure:"max_concurrency"`
}

// SeriesConfig overrides how one series is rendered.
type SeriesConfig struct {
	Name     string `mapstructure:"name"`
	Policy   string `mapstructure:"policy"`
	Digits   int    `mapstructure:"digits"`
	Decimals int32  `mapstructure:"decimals"`
	Scale    int32  `mapstructure:"scale"`
}

// MovingAverageConfig selects the averaged series.
type MovingAverageConfig struct {
	Series     []string `mapstructure:"series"`
	Length     int      `mapstructure:"length"`
	NameSuffix string   `mapstructure:"name_suffix"`
	BTCSuffix  string   `mapstructure:"btc_suffix"`
	BaseSuffix string   `mapstructure:"base_suffix"`
}

// ProvisioningConfig controls spendable output management.
type ProvisioningConfig struct {
	MinAvailablePostings int   `mapstructure:"min_available_postings"`
	InitialFee           int64 `mapstructure:"initial_fee"`
}

// PairConfig maps an exchange symbol onto a series name.
type PairConfig struct {
	Series string `mapstructure:"series"`
	Symbol string `mapstructure:"symbol"`
}

// HTTPSourceConfig covers REST price sources.
type HTTPSourceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// RequestsPerMinute caps outgoing calls; zero disables limiting.
	RequestsPerMinute float64      `mapstructure:"requests_per_minute"`
	Pairs             []PairConfig `mapstructure:"pairs"`
}

// PoolConfig describes a constant product pool whose reserves price a token.
type PoolConfig struct {
	Series       string `mapstructure:"series"`
	PairAddress  string `mapstructure:"pair_address"`
	TokenAddress string `mapstructure:"token_address"`
	Decimals0    int32  `mapstructure:"decimals0"`
	Decimals1    int32  `mapstructure:"decimals1"`
}

// EVMSourceConfig covers on-chain pool sources.
type EVMSourceConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Name           string        `mapstructure:"name"`
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Pools          []PoolConfig  `mapstructure:"pools"`
}

// BreakerConfig tunes the per-source circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
}

// SourcesConfig lists every price source. Order decides merge precedence.
type SourcesConfig struct {
	Order         []string         `mapstructure:"order"`
	Bitfinex      HTTPSourceConfig `mapstructure:"bitfinex"`
	Binance       HTTPSourceConfig `mapstructure:"binance"`
	CoinMarketCap HTTPSourceConfig `mapstructure:"coinmarketcap"`
	Frankfurter   HTTPSourceConfig `mapstructure:"frankfurter"`
	EVM           EVMSourceConfig  `mapstructure:"evm"`
	Breaker       BreakerConfig    `mapstructure:"breaker"`
}

// DerivedConfig defines Name = Base * Quote, computed after merging.
type DerivedConfig struct {
	Name  string `mapstructure:"name"`
	Base  string `mapstructure:"base"`
	Quote string `mapstructure:"quote"`
}

// WalletConfig reaches the signing wallet daemon.
type WalletConfig struct {
	RPCURL           string        `mapstructure:"rpc_url"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	SyncPollInterval time.Duration `mapstructure:"sync_poll_interval"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity to the wallet database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines operator notification routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram notifier.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("DATAFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotenv fills unset variables from DATAFEED_ENV_FILE or ./.env when present.
func loadDotenv() error {
	path := os.Getenv("DATAFEED_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "datafeed")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.jitter", "0s")
	v.SetDefault("scheduler.startup_delay", "1m")

	v.SetDefault("feed.identity", "")
	v.SetDefault("feed.app_tag", "data_feed")
	v.SetDefault("feed.significant_digits", precision.DefaultDigits)
	v.SetDefault("feed.max_concurrency", 4)

	v.SetDefault("moving_average.series", []string{"GBYTE_USD", "GBYTE_BTC"})
	v.SetDefault("moving_average.length", 10)
	v.SetDefault("moving_average.name_suffix", "_MA")
	v.SetDefault("moving_average.btc_suffix", "_BTC")
	v.SetDefault("moving_average.base_suffix", "_GBYTE")

	v.SetDefault("provisioning.min_available_postings", 10)
	v.SetDefault("provisioning.initial_fee", 0)

	v.SetDefault("sources.order", []string{"bitfinex", "binance", "coinmarketcap", "frankfurter", "evm"})
	v.SetDefault("sources.bitfinex.base_url", "https://api-pub.bitfinex.com/v2")
	v.SetDefault("sources.bitfinex.request_timeout", "10s")
	v.SetDefault("sources.binance.base_url", "https://api.binance.com/api/v3")
	v.SetDefault("sources.binance.request_timeout", "10s")
	v.SetDefault("sources.coinmarketcap.base_url", "https://pro-api.coinmarketcap.com/v2")
	v.SetDefault("sources.coinmarketcap.api_key", "")
	v.SetDefault("sources.coinmarketcap.request_timeout", "15s")
	v.SetDefault("sources.coinmarketcap.requests_per_minute", 10)
	v.SetDefault("sources.frankfurter.base_url", "https://api.frankfurter.app")
	v.SetDefault("sources.frankfurter.request_timeout", "10s")
	v.SetDefault("sources.evm.name", "kava")
	v.SetDefault("sources.evm.rpc_url", "https://evm.kava.io")
	v.SetDefault("sources.evm.request_timeout", "10s")
	v.SetDefault("sources.breaker.consecutive_failures", 3)
	v.SetDefault("sources.breaker.open_timeout", "15m")

	v.SetDefault("wallet.rpc_url", "http://127.0.0.1:6332")
	v.SetDefault("wallet.request_timeout", "30s")
	v.SetDefault("wallet.sync_poll_interval", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9108")

	v.SetDefault("export.max_data_points", 1000)

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Jitter < 0 {
		return fmt.Errorf("scheduler.jitter cannot be negative")
	}
	if c.Scheduler.StartupDelay < 0 {
		return fmt.Errorf("scheduler.startup_delay cannot be negative")
	}
	if !precision.ValidDigits(c.Feed.SignificantDigits) {
		return fmt.Errorf("feed.significant_digits must be between 1 and 16")
	}
	if c.Feed.AppTag == "" {
		return fmt.Errorf("feed.app_tag must be set")
	}
	if c.Feed.MaxConcurrency <= 0 {
		return fmt.Errorf("feed.max_concurrency must be greater than zero")
	}
	for _, s := range c.Series {
		if err := s.validate(); err != nil {
			return err
		}
	}
	if len(c.MovingAverage.Series) > 0 && c.MovingAverage.Length <= 0 {
		return fmt.Errorf("moving_average.length must be greater than zero when series are tracked")
	}
	if c.Provisioning.MinAvailablePostings < 0 {
		return fmt.Errorf("provisioning.min_available_postings cannot be negative")
	}
	if c.Provisioning.InitialFee < 0 {
		return fmt.Errorf("provisioning.initial_fee cannot be negative")
	}
	for _, d := range c.Derived {
		if d.Name == "" || d.Base == "" || d.Quote == "" {
			return fmt.Errorf("derived entries need name, base and quote")
		}
	}
	if c.Sources.EVM.Enabled && c.Sources.EVM.RPCURL == "" {
		return fmt.Errorf("sources.evm.rpc_url must be set when the evm source is enabled")
	}
	if c.Sources.CoinMarketCap.Enabled && c.Sources.CoinMarketCap.APIKey == "" {
		return fmt.Errorf("sources.coinmarketcap.api_key must be set when coinmarketcap is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must be set when metrics are enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

func (s SeriesConfig) validate() error {
	if s.Name == "" {
		return fmt.Errorf("series entries need a name")
	}
	switch s.Policy {
	case "", PolicySignificant:
		if s.Digits != 0 && !precision.ValidDigits(s.Digits) {
			return fmt.Errorf("series %s: digits must be between 1 and 16", s.Name)
		}
	case PolicyFixed:
		if s.Decimals < 0 {
			return fmt.Errorf("series %s: decimals cannot be negative", s.Name)
		}
	default:
		return fmt.Errorf("series %s: unknown policy %q", s.Name, s.Policy)
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
