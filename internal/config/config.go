// Package config loads and validates the TOML configuration for the
// trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "mt5-trader/internal/errors"
	"mt5-trader/internal/models"
)

// Config holds all application configuration. It is built once at
// startup and threaded through constructors.
type Config struct {
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Guard     GuardConfig     `mapstructure:"guard"`
	Session   SessionConfig   `mapstructure:"session"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Sim       SimConfig       `mapstructure:"sim"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// StrategyConfig holds instrument and indicator parameters.
type StrategyConfig struct {
	Symbol          string  `mapstructure:"symbol"`
	Timeframe       string  `mapstructure:"timeframe"` // terminal notation: M5, M15, H1
	EMAPeriod       int     `mapstructure:"ema_period"`
	MACDFast        int     `mapstructure:"macd_fast"`
	MACDSlow        int     `mapstructure:"macd_slow"`
	MACDSignal      int     `mapstructure:"macd_signal"`
	ATRPeriod       int     `mapstructure:"atr_period"`
	HistogramWindow int     `mapstructure:"histogram_window"`
	DojiRatio       float64 `mapstructure:"doji_ratio"`
}

// RiskConfig holds position sizing parameters.
type RiskConfig struct {
	RiskPerTrade      float64 `mapstructure:"risk_per_trade"` // fraction of balance, 0.01 = 1%
	RiskReward        float64 `mapstructure:"risk_reward"`
	ATRStopMultiplier float64 `mapstructure:"atr_stop_multiplier"`
}

// ExecutionConfig holds order routing parameters.
type ExecutionConfig struct {
	NudgePolicy     string  `mapstructure:"nudge_policy"` // off, conservative, flexible
	NudgeFactor     float64 `mapstructure:"nudge_factor"`
	DeviationPoints int     `mapstructure:"deviation_points"`
	Magic           int64   `mapstructure:"magic"`
	Comment         string  `mapstructure:"comment"`
}

// GuardConfig holds position management parameters.
type GuardConfig struct {
	BreakEven           bool          `mapstructure:"break_even"`
	BreakEvenTrigger    string        `mapstructure:"break_even_trigger"` // close, extreme
	TakeProfitMode      string        `mapstructure:"take_profit_mode"`   // fixed, trail, hybrid
	TrailMultiplier     float64       `mapstructure:"trail_multiplier"`
	CommissionPerLot    float64       `mapstructure:"commission_per_lot"`
	CommissionRoundTrip bool          `mapstructure:"commission_round_trip"`
	FreezeDuration      time.Duration `mapstructure:"freeze_duration"`
}

// SessionConfig holds the trading session window.
type SessionConfig struct {
	StartHour int    `mapstructure:"start_hour"`
	EndHour   int    `mapstructure:"end_hour"`
	Timezone  string `mapstructure:"timezone"`
}

// MonitorConfig holds candle feed parameters.
type MonitorConfig struct {
	Bootstrap        bool          `mapstructure:"bootstrap"`
	BootstrapBars    int           `mapstructure:"bootstrap_bars"`
	PrimingBars      int           `mapstructure:"priming_bars"`
	HydrationRetries int           `mapstructure:"hydration_retries"`
	HydrationDelay   time.Duration `mapstructure:"hydration_delay"`
	WakeBuffer       time.Duration `mapstructure:"wake_buffer"`
}

// BridgeConfig holds the terminal bridge connection.
type BridgeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SimConfig holds the paper trading simulation.
type SimConfig struct {
	StartBalance float64 `mapstructure:"start_balance"`
	StartPrice   float64 `mapstructure:"start_price"`
	Spread       float64 `mapstructure:"spread"`
	Synthesize   bool    `mapstructure:"synthesize"`
	Seed         int64   `mapstructure:"seed"`
	HistoryBars  int     `mapstructure:"history_bars"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// JournalConfig holds the trade journal settings.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/mt5-trader"
	}
	return filepath.Join(home, ".config", "mt5-trader")
}

// Load reads trading.toml, gateway.toml and app.toml from configDir,
// applies environment overrides and validates the result. Missing files
// are written as commented templates and reported as an error so a
// first run never trades on silent defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	created, err := WriteTemplates(configDir)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		return nil, fmt.Errorf("config templates created (%s): review them and run again", strings.Join(created, ", "))
	}

	cfg := &Config{}
	if err := loadTradingFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading trading.toml: %w", err)
	}
	if err := loadGatewayFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading gateway.toml: %w", err)
	}
	if err := loadAppFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading app.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func newFileViper(configDir, name string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	return v
}

func loadTradingFile(configDir string, cfg *Config) error {
	v := newFileViper(configDir, "trading")

	v.SetDefault("strategy.symbol", "EURUSD")
	v.SetDefault("strategy.timeframe", "M5")
	v.SetDefault("strategy.ema_period", 200)
	v.SetDefault("strategy.macd_fast", 12)
	v.SetDefault("strategy.macd_slow", 26)
	v.SetDefault("strategy.macd_signal", 9)
	v.SetDefault("strategy.atr_period", 14)
	v.SetDefault("strategy.histogram_window", 4)
	v.SetDefault("strategy.doji_ratio", 0.1)

	v.SetDefault("risk.risk_per_trade", 0.01)
	v.SetDefault("risk.risk_reward", 1.5)
	v.SetDefault("risk.atr_stop_multiplier", 1.5)

	v.SetDefault("execution.nudge_policy", "flexible")
	v.SetDefault("execution.nudge_factor", 2.0)
	v.SetDefault("execution.deviation_points", 10)
	v.SetDefault("execution.magic", 861001)
	v.SetDefault("execution.comment", "mt5-trader")

	v.SetDefault("guard.break_even", true)
	v.SetDefault("guard.break_even_trigger", "close")
	v.SetDefault("guard.take_profit_mode", "hybrid")
	v.SetDefault("guard.trail_multiplier", 1.0)
	v.SetDefault("guard.commission_per_lot", 3.0)
	v.SetDefault("guard.commission_round_trip", true)
	v.SetDefault("guard.freeze_duration", "24h")

	v.SetDefault("session.start_hour", 7)
	v.SetDefault("session.end_hour", 3)
	v.SetDefault("session.timezone", "Asia/Jakarta")

	v.SetDefault("monitor.bootstrap", true)
	v.SetDefault("monitor.bootstrap_bars", 10)
	v.SetDefault("monitor.priming_bars", 1500)
	v.SetDefault("monitor.hydration_retries", 5)
	v.SetDefault("monitor.hydration_delay", "2s")
	v.SetDefault("monitor.wake_buffer", "1s")

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func loadGatewayFile(configDir string, cfg *Config) error {
	v := newFileViper(configDir, "gateway")

	v.SetDefault("bridge.base_url", "http://127.0.0.1:8787")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.timeout", "15s")

	v.SetDefault("sim.start_balance", 10000.0)
	v.SetDefault("sim.start_price", 1.1)
	v.SetDefault("sim.spread", 0.0001)
	v.SetDefault("sim.synthesize", true)
	v.SetDefault("sim.seed", 0)
	v.SetDefault("sim.history_bars", 1600)

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func loadAppFile(configDir string, cfg *Config) error {
	v := newFileViper(configDir, "app")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "trader.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", filepath.Join(configDir, "journal.db"))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")

	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

// applyEnvOverrides lets secrets and deployment specifics come from the
// environment instead of files.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MT5_BRIDGE_URL"); v != "" {
		cfg.Bridge.BaseURL = v
	}
	if v := os.Getenv("MT5_BRIDGE_TOKEN"); v != "" {
		cfg.Bridge.Token = v
	}
	if v := os.Getenv("MT5_SYMBOL"); v != "" {
		cfg.Strategy.Symbol = v
	}
	if v := os.Getenv("MT5_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Timeframe returns the configured bar duration. Zero means the
// notation did not parse; Validate rejects that earlier.
func (c *Config) Timeframe() models.Timeframe {
	return models.ParseTimeframe(c.Strategy.Timeframe)
}

// Location returns the session timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Session.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the configuration for values the components would
// choke on later.
func (c *Config) Validate() error {
	if c.Strategy.Symbol == "" {
		return apperrors.NewValidationError("strategy.symbol", c.Strategy.Symbol, "symbol is required")
	}
	if models.ParseTimeframe(c.Strategy.Timeframe) == 0 {
		return apperrors.NewValidationError("strategy.timeframe", c.Strategy.Timeframe, "use terminal notation such as M5 or H1")
	}
	if c.Strategy.EMAPeriod < 2 {
		return apperrors.NewValidationError("strategy.ema_period", c.Strategy.EMAPeriod, "period must be at least 2")
	}
	if c.Strategy.MACDFast < 1 {
		return apperrors.NewValidationError("strategy.macd_fast", c.Strategy.MACDFast, "period must be positive")
	}
	if c.Strategy.MACDSlow <= c.Strategy.MACDFast {
		return apperrors.NewValidationError("strategy.macd_slow", c.Strategy.MACDSlow, "slow period must exceed the fast period")
	}
	if c.Strategy.MACDSignal < 1 {
		return apperrors.NewValidationError("strategy.macd_signal", c.Strategy.MACDSignal, "period must be positive")
	}
	if c.Strategy.ATRPeriod < 1 {
		return apperrors.NewValidationError("strategy.atr_period", c.Strategy.ATRPeriod, "period must be positive")
	}
	if c.Strategy.HistogramWindow < 4 {
		return apperrors.NewValidationError("strategy.histogram_window", c.Strategy.HistogramWindow, "the pattern needs at least four histogram values")
	}
	if c.Strategy.DojiRatio < 0 || c.Strategy.DojiRatio >= 1 {
		return apperrors.NewValidationError("strategy.doji_ratio", c.Strategy.DojiRatio, "ratio must be in [0, 1)")
	}

	if c.Risk.RiskPerTrade <= 0 || c.Risk.RiskPerTrade >= 1 {
		return apperrors.NewValidationError("risk.risk_per_trade", c.Risk.RiskPerTrade, "fraction must be in (0, 1)")
	}
	if c.Risk.RiskReward <= 0 {
		return apperrors.NewValidationError("risk.risk_reward", c.Risk.RiskReward, "ratio must be positive")
	}
	if c.Risk.ATRStopMultiplier < 0 {
		return apperrors.NewValidationError("risk.atr_stop_multiplier", c.Risk.ATRStopMultiplier, "multiplier must not be negative")
	}

	switch c.Execution.NudgePolicy {
	case "off", "conservative", "flexible":
	default:
		return apperrors.NewValidationError("execution.nudge_policy", c.Execution.NudgePolicy, "must be off, conservative or flexible")
	}
	if c.Execution.NudgeFactor < 1 {
		return apperrors.NewValidationError("execution.nudge_factor", c.Execution.NudgeFactor, "factor must be at least 1")
	}
	if c.Execution.DeviationPoints < 0 {
		return apperrors.NewValidationError("execution.deviation_points", c.Execution.DeviationPoints, "points must not be negative")
	}

	switch c.Guard.BreakEvenTrigger {
	case "close", "extreme":
	default:
		return apperrors.NewValidationError("guard.break_even_trigger", c.Guard.BreakEvenTrigger, "must be close or extreme")
	}
	switch c.Guard.TakeProfitMode {
	case "fixed", "trail", "hybrid":
	default:
		return apperrors.NewValidationError("guard.take_profit_mode", c.Guard.TakeProfitMode, "must be fixed, trail or hybrid")
	}
	if c.Guard.TrailMultiplier < 0 {
		return apperrors.NewValidationError("guard.trail_multiplier", c.Guard.TrailMultiplier, "multiplier must not be negative")
	}
	if c.Guard.CommissionPerLot < 0 {
		return apperrors.NewValidationError("guard.commission_per_lot", c.Guard.CommissionPerLot, "commission must not be negative")
	}
	if c.Guard.FreezeDuration < 0 {
		return apperrors.NewValidationError("guard.freeze_duration", c.Guard.FreezeDuration.String(), "duration must not be negative")
	}

	if c.Session.StartHour < 0 || c.Session.StartHour > 23 {
		return apperrors.NewValidationError("session.start_hour", c.Session.StartHour, "hour must be in 0..23")
	}
	if c.Session.EndHour < 0 || c.Session.EndHour > 23 {
		return apperrors.NewValidationError("session.end_hour", c.Session.EndHour, "hour must be in 0..23")
	}
	if _, err := time.LoadLocation(c.Session.Timezone); err != nil {
		return apperrors.NewValidationError("session.timezone", c.Session.Timezone, "unknown IANA timezone")
	}

	if c.Monitor.BootstrapBars < 1 {
		return apperrors.NewValidationError("monitor.bootstrap_bars", c.Monitor.BootstrapBars, "at least one bar is replayed")
	}
	if c.Monitor.PrimingBars < c.Monitor.BootstrapBars {
		return apperrors.NewValidationError("monitor.priming_bars", c.Monitor.PrimingBars, "priming must cover the bootstrap window")
	}
	if c.Monitor.HydrationRetries < 1 {
		return apperrors.NewValidationError("monitor.hydration_retries", c.Monitor.HydrationRetries, "at least one attempt is required")
	}
	if c.Monitor.HydrationDelay < 0 {
		return apperrors.NewValidationError("monitor.hydration_delay", c.Monitor.HydrationDelay.String(), "delay must not be negative")
	}
	if c.Monitor.WakeBuffer < 0 {
		return apperrors.NewValidationError("monitor.wake_buffer", c.Monitor.WakeBuffer.String(), "buffer must not be negative")
	}

	if c.Bridge.BaseURL == "" {
		return apperrors.NewValidationError("bridge.base_url", c.Bridge.BaseURL, "bridge address is required")
	}
	if c.Bridge.Timeout <= 0 {
		return apperrors.NewValidationError("bridge.timeout", c.Bridge.Timeout.String(), "timeout must be positive")
	}

	if c.Sim.StartBalance <= 0 {
		return apperrors.NewValidationError("sim.start_balance", c.Sim.StartBalance, "balance must be positive")
	}
	if c.Sim.Spread < 0 {
		return apperrors.NewValidationError("sim.spread", c.Sim.Spread, "spread must not be negative")
	}
	if c.Sim.HistoryBars < 1 {
		return apperrors.NewValidationError("sim.history_bars", c.Sim.HistoryBars, "at least one bar of history is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return apperrors.NewValidationError("logging.level", c.Logging.Level, "must be trace, debug, info, warn or error")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return apperrors.NewValidationError("journal.path", c.Journal.Path, "path is required when the journal is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return apperrors.NewValidationError("metrics.addr", c.Metrics.Addr, "listen address is required when metrics are enabled")
	}

	return nil
}
