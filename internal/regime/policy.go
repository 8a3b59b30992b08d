package regime

import (
	"github.com/shopspring/decimal"

	"github.com/finvex/matchcore/internal/book"
)

// Rule identifies a within-level ordering. Price is always the primary key;
// the rule only decides which resting order at the best price matches next.
type Rule string

const (
	// RulePriceTime is strict FIFO inside a level.
	RulePriceTime Rule = "PRICE_TIME"
	// RulePriceSizeTime serves larger resting quantity first, ties by time.
	RulePriceSizeTime Rule = "PRICE_SIZE_TIME"
	// RuleEnhanced favors execution likelihood in thin markets: orders at or
	// above a configured size threshold match first, time order within each
	// group.
	RuleEnhanced Rule = "ENHANCED"
	// RuleFastPath is FIFO with no secondary comparisons, for bursty flow.
	RuleFastPath Rule = "FAST_PATH"
)

// PolicyConfig tunes the non-FIFO rules.
type PolicyConfig struct {
	// LargeOrderThreshold is the resting size at or above which the enhanced
	// rule treats an order as liquidity-providing and serves it first.
	LargeOrderThreshold decimal.Decimal
}

// DefaultPolicyConfig returns the default policy tuning.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{LargeOrderThreshold: decimal.NewFromInt(50)}
}

// Policy is the ordering rule selected for one regime. It parameterizes
// matching at pop time and never reorders stored queues.
type Policy struct {
	Regime Regime
	Rule   Rule
	cfg    PolicyConfig
}

// PolicyFor maps a regime to its ordering rule. The mapping is a closed set:
// Normal and HighFrequency keep FIFO (the latter skipping secondary
// comparisons entirely), Volatile runs price-size-time, Illiquid runs the
// enhanced threshold rule.
func PolicyFor(r Regime, cfg PolicyConfig) Policy {
	p := Policy{Regime: r, cfg: cfg}
	switch r {
	case Volatile:
		p.Rule = RulePriceSizeTime
	case Illiquid:
		p.Rule = RuleEnhanced
	case HighFrequency:
		p.Rule = RuleFastPath
	default:
		p.Rule = RulePriceTime
	}
	return p
}

// Ordering returns the level ordering to apply at pop time. FIFO rules return
// nil so the book can take the queue head without scanning.
func (p Policy) Ordering() book.LevelOrdering {
	switch p.Rule {
	case RulePriceSizeTime:
		return sizeTimeOrdering
	case RuleEnhanced:
		threshold := p.cfg.LargeOrderThreshold
		return func(a, b *book.Order) bool {
			aLarge := a.Remaining().GreaterThanOrEqual(threshold)
			bLarge := b.Remaining().GreaterThanOrEqual(threshold)
			if aLarge != bLarge {
				return aLarge
			}
			return a.ArrivalSeq < b.ArrivalSeq
		}
	default:
		return nil
	}
}

func sizeTimeOrdering(a, b *book.Order) bool {
	switch a.Remaining().Cmp(b.Remaining()) {
	case 1:
		return true
	case -1:
		return false
	}
	return a.ArrivalSeq < b.ArrivalSeq
}
