package governor

import "tradecore/internal/domain"

// Limits configures admission budgets. Zero-valued budgets are unlimited.
type Limits struct {
	PerKeyTarget  int                     `json:"per_key_target" yaml:"per_key_target"`   // desired trades per (symbol, timeframe) per rolling 24h
	GlobalDaily   int                     `json:"global_daily" yaml:"global_daily"`       // hard cap across all keys per UTC day
	CategoryDaily map[domain.Category]int `json:"category_daily" yaml:"category_daily"`   // per-horizon daily budgets
	CooldownBars  int                     `json:"cooldown_bars" yaml:"cooldown_bars"`     // bars blocked after a close on the same key
}

// DefaultLimits returns the baseline admission budgets.
func DefaultLimits() Limits {
	return Limits{
		PerKeyTarget: 3,
		GlobalDaily:  10,
		CategoryDaily: map[domain.Category]int{
			domain.CategoryShort:  6,
			domain.CategoryMedium: 4,
			domain.CategoryLong:   2,
		},
		CooldownBars: 2,
	}
}

// Score-bias shaping: over pace demands higher signal quality quickly,
// under pace relaxes only slightly.
const (
	biasStepOver  = 0.05
	biasStepUnder = 0.02
	biasMax       = 0.25
	biasMin       = -0.05
)

func scoreBias(count, target int) float64 {
	if target <= 0 {
		return 0
	}
	diff := count - target
	if diff >= 0 {
		bias := float64(diff) * biasStepOver
		if bias > biasMax {
			return biasMax
		}
		return bias
	}
	bias := float64(diff) * biasStepUnder
	if bias < biasMin {
		return biasMin
	}
	return bias
}
