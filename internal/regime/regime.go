// Package regime classifies live market conditions and maps each condition to
// a within-level order priority rule used by the adaptive matching engine.
package regime

import (
	"time"

	"github.com/shopspring/decimal"
)

// Regime is the detected market condition.
type Regime string

const (
	Normal        Regime = "NORMAL"
	Volatile      Regime = "VOLATILE"
	Illiquid      Regime = "ILLIQUID"
	HighFrequency Regime = "HIGH_FREQUENCY"
)

// Observation is one timestamped market event fed to the detector. Volume is
// the traded quantity of the event (zero for quote-only events) and Arrivals
// the number of order arrivals it represents.
type Observation struct {
	At       time.Time
	MidPrice decimal.Decimal
	Spread   decimal.Decimal
	Volume   decimal.Decimal
	Arrivals int
}

// Metrics summarizes the detector's rolling window.
type Metrics struct {
	Volatility      float64 // stddev of consecutive mid-price returns
	MeanSpread      float64 // mean spread relative to mid-price
	VolumeImbalance float64 // |buy - sell| / total over the window
	VolumeRate      float64 // traded volume per second
	ArrivalRate     float64 // order arrivals per second
}

// Config holds the detection thresholds. All values are deliberately named
// configuration, not constants; the defaults follow common single-instrument
// simulator settings and suit mid-price series in the thousands.
type Config struct {
	// WindowSize is the number of most recent observations retained.
	WindowSize int `mapstructure:"window_size"`
	// VolatilityThreshold is the return stddev above which the market is
	// Volatile (0.02 = 2%).
	VolatilityThreshold float64 `mapstructure:"volatility_threshold"`
	// SpreadThreshold is the mean relative spread above which the market is
	// Illiquid (0.01 = 1% of mid).
	SpreadThreshold float64 `mapstructure:"spread_threshold"`
	// MinVolumeRate is the traded volume per second below which the market is
	// Illiquid.
	MinVolumeRate float64 `mapstructure:"min_volume_rate"`
	// ArrivalRateThreshold is the arrivals per second above which the market
	// is HighFrequency.
	ArrivalRateThreshold float64 `mapstructure:"arrival_rate_threshold"`
	// Hysteresis is how many consecutive classifications a candidate regime
	// needs before it replaces the active one.
	Hysteresis int `mapstructure:"hysteresis"`
}

// DefaultConfig returns the default detection thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize:           100,
		VolatilityThreshold:  0.02,
		SpreadThreshold:      0.01,
		MinVolumeRate:        50,
		ArrivalRateThreshold: 100,
		Hysteresis:           3,
	}
}
