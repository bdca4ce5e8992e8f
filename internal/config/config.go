package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres connection pool.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ProviderConfig configures the market-data provider client.
type ProviderConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Timeout returns the per-request timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// BreakerReset returns how long the circuit stays open.
func (p ProviderConfig) BreakerReset() time.Duration {
	return time.Duration(p.BreakerResetSecs) * time.Second
}

// BatchConfig configures batch ingestion.
type BatchConfig struct {
	MaxConcurrentSymbols int `yaml:"max_concurrent_symbols" mapstructure:"max_concurrent_symbols"`
	SymbolTimeoutSecs    int `yaml:"symbol_timeout_secs" mapstructure:"symbol_timeout_secs"`
}

// SymbolTimeout returns the per-symbol fetch budget.
func (b BatchConfig) SymbolTimeout() time.Duration {
	return time.Duration(b.SymbolTimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FINSCREEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Empty-string defaults register the key so env overrides
	// reach Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("provider.base_url", "http://localhost:8000")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout_secs", 15)
	v.SetDefault("provider.rate_limit", 5)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("provider.breaker_threshold", 5)
	v.SetDefault("provider.breaker_reset_secs", 30)
	v.SetDefault("batch.max_concurrent_symbols", 4)
	v.SetDefault("batch.symbol_timeout_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "ingest",
// "serve", "migrate", "runs". Every problem is reported in one error.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "migrate", "runs":
	case "ingest", "serve":
		errs = append(errs, c.validateProvider()...)
		errs = append(errs, c.validateBatch()...)
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.MaxConns < 0 || c.Store.MinConns < 0 {
		errs = append(errs, "store.max_conns and store.min_conns must be >= 0")
	}
	if c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns {
		errs = append(errs, "store.min_conns must be <= store.max_conns")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProvider() []string {
	var errs []string
	p := c.Provider
	if p.BaseURL == "" {
		errs = append(errs, "provider.base_url is required")
	}
	if p.TimeoutSecs <= 0 {
		errs = append(errs, "provider.timeout_secs must be > 0")
	}
	if p.RateLimit < 0 {
		errs = append(errs, "provider.rate_limit must be >= 0")
	}
	if p.MaxRetries < 0 {
		errs = append(errs, "provider.max_retries must be >= 0")
	}
	if p.BreakerThreshold <= 0 {
		errs = append(errs, "provider.breaker_threshold must be > 0")
	}
	return errs
}

func (c *Config) validateBatch() []string {
	var errs []string
	if n := c.Batch.MaxConcurrentSymbols; n < 1 || n > 64 {
		errs = append(errs, fmt.Sprintf("batch.max_concurrent_symbols must be between 1 and 64, got %d", n))
	}
	if c.Batch.SymbolTimeoutSecs <= 0 {
		errs = append(errs, "batch.symbol_timeout_secs must be > 0")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
