package regime

import (
	"math"

	"go.uber.org/zap"
)

// Detector keeps a rolling window of observations and classifies the market
// among the four regimes. Classification precedence is Volatile, then
// Illiquid, then HighFrequency, then Normal; an hysteresis count keeps a
// single noisy observation from flipping the active regime.
//
// A Detector is owned by exactly one engine and is not goroutine safe.
type Detector struct {
	cfg    Config
	logger *zap.Logger

	window []Observation // ring buffer, oldest at head
	start  int

	buyVolume  float64
	sellVolume float64

	active    Regime
	candidate Regime
	streak    int
}

// NewDetector builds a detector starting in the Normal regime.
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.Hysteresis <= 0 {
		cfg.Hysteresis = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:       cfg,
		logger:    logger,
		window:    make([]Observation, 0, cfg.WindowSize),
		active:    Normal,
		candidate: Normal,
	}
}

// Observe appends an observation, evicting the oldest when the window is full.
func (d *Detector) Observe(obs Observation) {
	if len(d.window) < d.cfg.WindowSize {
		d.window = append(d.window, obs)
		return
	}
	d.window[d.start] = obs
	d.start = (d.start + 1) % d.cfg.WindowSize
}

// ObserveSide tracks signed traded volume for the imbalance metric.
func (d *Detector) ObserveSide(buy bool, volume float64) {
	if buy {
		d.buyVolume += volume
	} else {
		d.sellVolume += volume
	}
}

// at returns the i-th observation in arrival order.
func (d *Detector) at(i int) Observation {
	return d.window[(d.start+i)%len(d.window)]
}

// Metrics computes the window summary. An empty or single-entry window yields
// zero metrics.
func (d *Detector) Metrics() Metrics {
	n := len(d.window)
	if n == 0 {
		return Metrics{}
	}

	var (
		returns      []float64
		spreadSum    float64
		volumeSum    float64
		arrivals     int
		prevMid      float64
		havePrevMid  bool
		spreadCount  int
		firstAt      = d.at(0).At
		lastAt       = d.at(n - 1).At
		windowLength = lastAt.Sub(firstAt).Seconds()
	)

	for i := 0; i < n; i++ {
		obs := d.at(i)
		mid, _ := obs.MidPrice.Float64()
		spread, _ := obs.Spread.Float64()
		volume, _ := obs.Volume.Float64()

		if mid > 0 {
			if havePrevMid && prevMid > 0 {
				returns = append(returns, (mid-prevMid)/prevMid)
			}
			prevMid = mid
			havePrevMid = true
			spreadSum += spread / mid
			spreadCount++
		}
		volumeSum += volume
		arrivals += obs.Arrivals
	}

	m := Metrics{Volatility: stddev(returns)}
	if spreadCount > 0 {
		m.MeanSpread = spreadSum / float64(spreadCount)
	}
	total := d.buyVolume + d.sellVolume
	if total > 0 {
		m.VolumeImbalance = math.Abs(d.buyVolume-d.sellVolume) / total
	}
	if windowLength > 0 {
		m.VolumeRate = volumeSum / windowLength
		m.ArrivalRate = float64(arrivals) / windowLength
	}
	return m
}

// minObservations before the detector trusts its metrics.
const minObservations = 10

// Classify evaluates the window and returns the active regime, applying
// hysteresis: a differing candidate must repeat for cfg.Hysteresis
// consecutive classifications before it becomes active.
func (d *Detector) Classify() Regime {
	if len(d.window) < minObservations {
		return d.active
	}

	m := d.Metrics()
	raw := Normal
	switch {
	case m.Volatility > d.cfg.VolatilityThreshold:
		raw = Volatile
	case m.MeanSpread > d.cfg.SpreadThreshold || (m.VolumeRate > 0 && m.VolumeRate < d.cfg.MinVolumeRate):
		raw = Illiquid
	case m.ArrivalRate > d.cfg.ArrivalRateThreshold:
		raw = HighFrequency
	}

	if raw == d.active {
		d.candidate = d.active
		d.streak = 0
		return d.active
	}
	if raw == d.candidate {
		d.streak++
	} else {
		d.candidate = raw
		d.streak = 1
	}
	if d.streak >= d.cfg.Hysteresis {
		d.logger.Info("market regime changed",
			zap.String("from", string(d.active)),
			zap.String("to", string(raw)),
			zap.Float64("volatility", m.Volatility),
			zap.Float64("mean_spread", m.MeanSpread),
			zap.Float64("arrival_rate", m.ArrivalRate))
		d.active = raw
		d.streak = 0
	}
	return d.active
}

// Active returns the current regime without re-evaluating the window.
func (d *Detector) Active() Regime { return d.active }

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance)
}
