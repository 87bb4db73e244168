// Package config loads the engine's hierarchical configuration: a YAML
// file for structural settings, overlaid with environment variables for
// secrets and deployment-specific overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TradingMode selects which executor backs the engine.
type TradingMode string

const (
	ModeLive       TradingMode = "live"
	ModeSimulation TradingMode = "simulation"
	ModeBacktest   TradingMode = "backtest"
)

// Config is the fully-resolved, immutable-after-load configuration tree.
// Runtime-tunable knobs live separately in TunableParams.
type Config struct {
	Global            GlobalConfig               `yaml:"global"`
	Venues            map[string]VenueConfig     `yaml:"venues"`
	Arbitrage         ArbitrageConfig            `yaml:"arbitrage"`
	PremiumDetection  PremiumDetectionConfig     `yaml:"premium_detection"`
	Risk              RiskConfig                 `yaml:"risk"`
	Persistence       PersistenceConfig          `yaml:"persistence"`
	Backtest          BacktestConfig             `yaml:"backtest"`
	Simulation        SimulationConfig           `yaml:"simulation"`
	Server            ServerConfig               `yaml:"server"`
	Database          DatabaseConfig             `yaml:"database"`
	Security          SecurityConfig             `yaml:"security"`
	Logging           LoggingConfig              `yaml:"logging"`
}

// GlobalConfig holds top-level run-mode selection.
type GlobalConfig struct {
	TradingMode TradingMode `yaml:"trading_mode"`
}

// VenueConfig is one exchange's connection and fee configuration.
type VenueConfig struct {
	APIKey            string  `yaml:"api_key"`
	APISecret         string  `yaml:"api_secret"`
	Passphrase        string  `yaml:"passphrase"`
	Testnet           bool    `yaml:"testnet"`
	Enabled           bool    `yaml:"enabled"`
	ArbitrageEnabled  bool    `yaml:"arbitrage_enabled"`
	Region            string  `yaml:"region"`
	MakerFee          float64 `yaml:"maker_fee"`
	TakerFee          float64 `yaml:"taker_fee"`
	// DenySymbols lists canonical symbols this venue's adapter refuses to
	// subscribe to even if list_symbols() reports them (numeric-prefix
	// synthetics, thinly traded assets that error on subscription).
	DenySymbols []string `yaml:"deny_symbols"`
}

// ArbitrageConfig parameterizes the Detection Engine and Executor sizing.
type ArbitrageConfig struct {
	MinProfitThreshold     float64  `yaml:"min_profit_threshold"`
	MaxPositionSize        float64  `yaml:"max_position_size"`
	MaxTradesPerHour       int      `yaml:"max_trades_per_hour"`
	TradeAmountUSD         float64  `yaml:"trade_amount_usd"`
	MaxSymbols             int      `yaml:"max_symbols"`
	SlippageTolerance      float64  `yaml:"slippage_tolerance"`
	MaxSpreadAgeSeconds    int      `yaml:"max_spread_age_seconds"`
	MaxSpreadThreshold     float64  `yaml:"max_spread_threshold"`
	EnabledQuoteCurrencies []string `yaml:"enabled_quote_currencies"`
	MovingAveragePeriods   int      `yaml:"moving_average_periods"`
}

// MaxSpreadAge returns the freshness window as a time.Duration.
func (a ArbitrageConfig) MaxSpreadAge() time.Duration {
	return time.Duration(a.MaxSpreadAgeSeconds) * time.Second
}

// PremiumDetectionConfig parameterizes the baseline tracker.
type PremiumDetectionConfig struct {
	Enabled          bool    `yaml:"enabled"`
	LookbackPeriods  int     `yaml:"lookback_periods"`
	MinSamples       int     `yaml:"min_samples"`
	OutlierThreshold float64 `yaml:"outlier_threshold"`
}

// RiskConfig bounds the executor's risk posture.
type RiskConfig struct {
	MaxDrawdownPercent      float64 `yaml:"max_drawdown_percent"`
	StopLossPercent         float64 `yaml:"stop_loss_percent"`
	MaxConcurrentTrades     int     `yaml:"max_concurrent_trades"`
	BalanceThresholdPercent float64 `yaml:"balance_threshold_percent"`
}

// PersistenceConfig controls the batch-writer and retention policy.
type PersistenceConfig struct {
	Path                string `yaml:"path"`
	BackupIntervalHours int    `yaml:"backup_interval_hours"`
	MaxHistoryDays      int    `yaml:"max_history_days"`
	BatchSize           int    `yaml:"batch_size"`
	BatchIntervalSeconds int   `yaml:"batch_interval_seconds"`
}

func (p PersistenceConfig) BatchInterval() time.Duration {
	return time.Duration(p.BatchIntervalSeconds) * time.Second
}

// BacktestConfig selects replay window and data source.
type BacktestConfig struct {
	StartDate       string  `yaml:"start_date"`
	EndDate         string  `yaml:"end_date"`
	InitialBalance  float64 `yaml:"initial_balance"`
	DataSource      string  `yaml:"data_source"` // database, csv
	CSVPath         string  `yaml:"csv_path"`
}

// SimulationConfig parameterizes the Simulator's order-lifecycle
// randomness and starting portfolio, used only when global.trading_mode
// is "simulation" or by the Backtester.
type SimulationConfig struct {
	OrderRejectProbability  float64            `yaml:"order_reject_probability"`
	PartialFillProbability  float64            `yaml:"partial_fill_probability"`
	PartialFillFraction     float64            `yaml:"partial_fill_fraction"`
	FillDelaySeconds        float64            `yaml:"fill_delay_seconds"`
	SeedQuoteAsset          string             `yaml:"seed_quote_asset"`
	SeedQuoteBalance        float64            `yaml:"seed_quote_balance"`
	SeedBaseBalance         float64            `yaml:"seed_base_balance"`
	ReferencePrices         map[string]float64 `yaml:"reference_prices"`
}

// ServerConfig - HTTP control surface settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	UseHTTPS bool   `yaml:"use_https"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig - Postgres connection settings.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// SecurityConfig - at-rest encryption settings.
type SecurityConfig struct {
	EncryptionKey  string `yaml:"encryption_key"`
	SessionTimeout int    `yaml:"session_timeout"`
}

// LoggingConfig selects zap's encoder/level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load starts from built-in defaults and unmarshals the YAML file at path
// (if non-empty and present) over them, so keys absent from the file keep
// their defaults while keys set in the file, even to zero, replace them.
// It then overlays environment variables — sensitive venue credentials
// always win over file values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			fileCfg := defaultConfig()
			if err := yaml.Unmarshal(data, fileCfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg = fileCfg
		}
	}

	applyEnvOverlay(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Global: GlobalConfig{TradingMode: ModeSimulation},
		Venues: map[string]VenueConfig{},
		Arbitrage: ArbitrageConfig{
			MinProfitThreshold:     0.0005,
			MaxPositionSize:        1000,
			MaxTradesPerHour:       20,
			TradeAmountUSD:         100,
			MaxSymbols:             30,
			SlippageTolerance:      0.0005,
			MaxSpreadAgeSeconds:    5,
			MaxSpreadThreshold:     0.02,
			EnabledQuoteCurrencies: []string{"USDT"},
			MovingAveragePeriods:   20,
		},
		PremiumDetection: PremiumDetectionConfig{
			Enabled:          true,
			LookbackPeriods:  100,
			MinSamples:       10,
			OutlierThreshold: 2.0,
		},
		Risk: RiskConfig{
			MaxDrawdownPercent:      10,
			StopLossPercent:         5,
			MaxConcurrentTrades:     5,
			BalanceThresholdPercent: 10,
		},
		Persistence: PersistenceConfig{
			Path:                 "./data",
			BackupIntervalHours:  24,
			MaxHistoryDays:       30,
			BatchSize:            100,
			BatchIntervalSeconds: 2,
		},
		Backtest: BacktestConfig{
			InitialBalance: 10000,
			DataSource:     "database",
		},
		Simulation: SimulationConfig{
			OrderRejectProbability: 0.02,
			PartialFillProbability: 0.15,
			PartialFillFraction:    0.70,
			FillDelaySeconds:       0.3,
			SeedQuoteAsset:         "USDT",
			SeedQuoteBalance:       10000,
			SeedBaseBalance:        0.1,
			ReferencePrices:        map[string]float64{"BTC": 60000, "ETH": 3000},
		},
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Port:    5432,
			Name:    "spotarb",
			User:    "spotarb",
			SSLMode: "disable",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverlay overrides secrets and deployment specifics from the
// environment. Per-venue credentials use the pattern
// "<VENUE>_API_KEY"/"<VENUE>_API_SECRET"/"<VENUE>_PASSPHRASE".
func applyEnvOverlay(cfg *Config) {
	for name, v := range cfg.Venues {
		upper := strings.ToUpper(name)
		if key := os.Getenv(upper + "_API_KEY"); key != "" {
			v.APIKey = key
		}
		if secret := os.Getenv(upper + "_API_SECRET"); secret != "" {
			v.APISecret = secret
		}
		if pass := os.Getenv(upper + "_PASSPHRASE"); pass != "" {
			v.Passphrase = pass
		}
		cfg.Venues[name] = v
	}

	cfg.Server.Port = getEnvAsInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.UseHTTPS = getEnvAsBool("USE_HTTPS", cfg.Server.UseHTTPS)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", cfg.Database.SSLMode)

	cfg.Security.EncryptionKey = getEnv("ENCRYPTION_KEY", cfg.Security.EncryptionKey)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	if mode := os.Getenv("TRADING_MODE"); mode != "" {
		cfg.Global.TradingMode = TradingMode(mode)
	}
}

// Validate checks the invariants the engine cannot safely start without.
func (c *Config) Validate() error {
	var errs []string

	if c.Security.EncryptionKey == "" {
		errs = append(errs, "security.encryption_key (or ENCRYPTION_KEY) is required")
	} else if len(c.Security.EncryptionKey) != 32 {
		errs = append(errs, "security.encryption_key must be exactly 32 bytes for AES-256")
	}

	switch c.Global.TradingMode {
	case ModeLive, ModeSimulation, ModeBacktest:
	default:
		errs = append(errs, fmt.Sprintf("global.trading_mode %q is not one of live|simulation|backtest", c.Global.TradingMode))
	}

	if c.Arbitrage.MinProfitThreshold <= 0 {
		errs = append(errs, "arbitrage.min_profit_threshold must be > 0")
	}
	if c.Arbitrage.MaxSpreadAgeSeconds <= 0 {
		errs = append(errs, "arbitrage.max_spread_age_seconds must be > 0")
	}
	if len(c.Arbitrage.EnabledQuoteCurrencies) == 0 {
		errs = append(errs, "arbitrage.enabled_quote_currencies must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
