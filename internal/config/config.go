// Package config holds the construction-time configuration for the matching
// engines, loadable from a YAML file with MATCHCORE_* environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/finvex/matchcore/internal/engine"
	"github.com/finvex/matchcore/internal/regime"
)

// Config is the file/env-facing configuration. Prices and percentages are
// plain floats here; engine constructors convert to decimals.
type Config struct {
	Symbol              string        `mapstructure:"symbol"`
	LogLevel            string        `mapstructure:"log_level"`
	TickSize            float64       `mapstructure:"tick_size"`
	CircuitBreakerPct   float64       `mapstructure:"circuit_breaker_pct"`
	PriceBandPct        float64       `mapstructure:"price_band_pct"`
	LargeOrderThreshold float64       `mapstructure:"large_order_threshold"`
	Regime              regime.Config `mapstructure:"regime"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Symbol:              "NIFTY",
		LogLevel:            "info",
		TickSize:            0.05,
		CircuitBreakerPct:   10,
		PriceBandPct:        20,
		LargeOrderThreshold: 50,
		Regime:              regime.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("symbol", d.Symbol)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("tick_size", d.TickSize)
	v.SetDefault("circuit_breaker_pct", d.CircuitBreakerPct)
	v.SetDefault("price_band_pct", d.PriceBandPct)
	v.SetDefault("large_order_threshold", d.LargeOrderThreshold)
	v.SetDefault("regime.window_size", d.Regime.WindowSize)
	v.SetDefault("regime.volatility_threshold", d.Regime.VolatilityThreshold)
	v.SetDefault("regime.spread_threshold", d.Regime.SpreadThreshold)
	v.SetDefault("regime.min_volume_rate", d.Regime.MinVolumeRate)
	v.SetDefault("regime.arrival_rate_threshold", d.Regime.ArrivalRateThreshold)
	v.SetDefault("regime.hysteresis", d.Regime.Hysteresis)
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("MATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Exchange converts to the protective engine's construction config.
func (c *Config) Exchange() engine.ExchangeConfig {
	return engine.ExchangeConfig{
		Symbol:            c.Symbol,
		TickSize:          decimal.NewFromFloat(c.TickSize),
		CircuitBreakerPct: decimal.NewFromFloat(c.CircuitBreakerPct),
		PriceBandPct:      decimal.NewFromFloat(c.PriceBandPct),
	}
}

// Adaptive converts to the adaptive engine's construction config.
func (c *Config) Adaptive() engine.AdaptiveConfig {
	return engine.AdaptiveConfig{
		Regime: c.Regime,
		Policy: regime.PolicyConfig{
			LargeOrderThreshold: decimal.NewFromFloat(c.LargeOrderThreshold),
		},
	}
}
