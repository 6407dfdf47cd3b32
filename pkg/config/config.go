// Package config defines the bridge's configuration surface. Config is
// loaded from a YAML file with sensitive fields overridable via
// ATLAS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML
// file structure.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Weights   WeightsConfig   `mapstructure:"weights"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Flatten   FlattenConfig   `mapstructure:"flatten"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig addresses the upstream broker gateway.
type BrokerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	ClientID int    `mapstructure:"client_id"`
}

// ServerConfig controls the REST/WebSocket/MCP listener.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	APIKey          string `mapstructure:"api_key"`
	DashboardOrigin string `mapstructure:"dashboard_origin"`
}

// ProviderConfig is one LLM provider's endpoint and credential.
type ProviderConfig struct {
	Name     string        `mapstructure:"name"`
	Model    string        `mapstructure:"model"`
	Endpoint string        `mapstructure:"endpoint"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ProvidersConfig holds the three ensemble providers.
type ProvidersConfig struct {
	Claude ProviderConfig `mapstructure:"claude"`
	GPT4o  ProviderConfig `mapstructure:"gpt4o"`
	Gemini ProviderConfig `mapstructure:"gemini"`
}

// WeightsConfig locates the hot-reloadable weight file.
type WeightsConfig struct {
	Path string `mapstructure:"path"`
}

// RiskConfig mirrors types.RiskLimitsConfig's floors, expressed as
// plain YAML-friendly fields before being parsed into decimals.
type RiskConfig struct {
	MaxPositionPct       string `mapstructure:"max_position_pct"`
	MaxDailyLossPct      string `mapstructure:"max_daily_loss_pct"`
	MaxConcentrationPct  string `mapstructure:"max_concentration_pct"`
	VolatilityScalar     string `mapstructure:"volatility_scalar"`
	MaxDailyTrades       int    `mapstructure:"max_daily_trades"`
	ConsecutiveLossLimit int    `mapstructure:"consecutive_loss_limit"`
}

// FlattenConfig configures the end-of-day flatten scheduler.
type FlattenConfig struct {
	Time     string `mapstructure:"time"` // "HH:MM"
	Timezone string `mapstructure:"timezone"`
}

// StoreConfig sets where the event store and availability database
// live on disk.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ATLAS_SERVER_API_KEY,
// ATLAS_PROVIDERS_CLAUDE_API_KEY, ATLAS_PROVIDERS_GPT4O_API_KEY,
// ATLAS_PROVIDERS_GEMINI_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ATLAS_SERVER_API_KEY"); key != "" {
		cfg.Server.APIKey = key
	}
	if key := os.Getenv("ATLAS_PROVIDERS_CLAUDE_API_KEY"); key != "" {
		cfg.Providers.Claude.APIKey = key
	}
	if key := os.Getenv("ATLAS_PROVIDERS_GPT4O_API_KEY"); key != "" {
		cfg.Providers.GPT4o.APIKey = key
	}
	if key := os.Getenv("ATLAS_PROVIDERS_GEMINI_API_KEY"); key != "" {
		cfg.Providers.Gemini.APIKey = key
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.host", "127.0.0.1")
	v.SetDefault("broker.port", 7497)
	v.SetDefault("broker.client_id", 1)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.dashboard_origin", "http://localhost:3000")
	v.SetDefault("weights.path", "./data/weights.json")
	v.SetDefault("risk.max_position_pct", "0.1")
	v.SetDefault("risk.max_daily_loss_pct", "0.03")
	v.SetDefault("risk.max_concentration_pct", "0.25")
	v.SetDefault("risk.volatility_scalar", "1.0")
	v.SetDefault("risk.max_daily_trades", 20)
	v.SetDefault("risk.consecutive_loss_limit", 3)
	v.SetDefault("flatten.time", "15:55")
	v.SetDefault("flatten.timezone", "America/New_York")
	v.SetDefault("store.data_dir", "./data")
	v.SetDefault("logging.level", "info")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host is required")
	}
	if c.Broker.Port <= 0 {
		return fmt.Errorf("broker.port must be > 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required (set ATLAS_SERVER_API_KEY)")
	}
	if _, err := time.LoadLocation(c.Flatten.Timezone); err != nil {
		return fmt.Errorf("flatten.timezone invalid: %w", err)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}

// ToRiskLimits parses the string risk floors into a
// types.RiskLimitsConfig ready for internal/risk.NewGate.
func (r RiskConfig) ToRiskLimits() (types.RiskLimitsConfig, error) {
	maxPosition, err := r.parseDecimal("max_position_pct", r.MaxPositionPct)
	if err != nil {
		return types.RiskLimitsConfig{}, err
	}
	maxDailyLoss, err := r.parseDecimal("max_daily_loss_pct", r.MaxDailyLossPct)
	if err != nil {
		return types.RiskLimitsConfig{}, err
	}
	maxConcentration, err := r.parseDecimal("max_concentration_pct", r.MaxConcentrationPct)
	if err != nil {
		return types.RiskLimitsConfig{}, err
	}
	volScalar, err := r.parseDecimal("volatility_scalar", r.VolatilityScalar)
	if err != nil {
		return types.RiskLimitsConfig{}, err
	}
	return types.RiskLimitsConfig{
		MaxPositionPct:       maxPosition,
		MaxDailyLossPct:      maxDailyLoss,
		MaxConcentrationPct:  maxConcentration,
		VolatilityScalar:     volScalar,
		MaxDailyTrades:       r.MaxDailyTrades,
		ConsecutiveLossLimit: r.ConsecutiveLossLimit,
	}, nil
}

func (r RiskConfig) parseDecimal(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("risk.%s: %w", field, err)
	}
	return d, nil
}
