package profile

import "tradecore/internal/domain"

// Baseline profiles. The ratchet thresholds and lock levels are carried
// over from live tuning as opaque configuration; they have no closed-form
// derivation.
var (
	DefaultTrendProfile = ExitProfile{
		TP1R:              1.0,
		TP1Portion:        0.6,
		RunnerPortion:     0.4,
		RunnerStopR:       0.1,
		BreakevenTriggerR: 0.5,
		BreakevenLockR:    0.1,
		Ratchet: []RatchetTier{
			{TriggerR: 0.8, LockR: 0.3},
			{TriggerR: 1.0, LockR: 0.5},
			{TriggerR: 1.5, LockR: 1.0},
			{TriggerR: 2.0, LockR: 1.5},
		},
		TrailStepR: 0.5,
		TrailMoveR: 0.5,
		MaxRRCap:   5,
	}

	DefaultMeanReversionProfile = ExitProfile{
		TP1R:              0.8,
		TP1Portion:        1.0,
		SingleTarget:      true,
		BreakevenTriggerR: 0.5,
		BreakevenLockR:    0.1,
		MaxRRCap:          2,
	}
)

// Soft-stop budgets per timeframe, in bars. Faster bars get more of them;
// mean reversion is expected to resolve sooner than a trend leg.
var (
	trendSoftMaxBars = map[domain.Timeframe]int{
		domain.Timeframe1m:  30,
		domain.Timeframe3m:  30,
		domain.Timeframe5m:  24,
		domain.Timeframe15m: 24,
		domain.Timeframe30m: 20,
		domain.Timeframe1h:  16,
		domain.Timeframe2h:  16,
		domain.Timeframe4h:  12,
		domain.Timeframe6h:  12,
		domain.Timeframe12h: 10,
		domain.Timeframe1d:  8,
	}

	meanRevSoftMaxBars = map[domain.Timeframe]int{
		domain.Timeframe1m:  20,
		domain.Timeframe3m:  20,
		domain.Timeframe5m:  16,
		domain.Timeframe15m: 16,
		domain.Timeframe30m: 14,
		domain.Timeframe1h:  12,
		domain.Timeframe2h:  12,
		domain.Timeframe4h:  10,
		domain.Timeframe6h:  8,
		domain.Timeframe12h: 7,
		domain.Timeframe1d:  6,
	}
)

// DefaultTable builds the built-in profile table: every known timeframe
// gets the baseline trend and mean-reversion profiles with its own
// soft-stop budget.
func DefaultTable() Table {
	t := make(Table, len(trendSoftMaxBars))
	for tf, bars := range trendSoftMaxBars {
		trend := DefaultTrendProfile
		trend.SoftMaxBars = bars

		meanRev := DefaultMeanReversionProfile
		meanRev.SoftMaxBars = meanRevSoftMaxBars[tf]

		t[tf] = map[domain.TradeMode]ExitProfile{
			domain.TradeModeTrend:         trend,
			domain.TradeModeMeanReversion: meanRev,
		}
	}
	return t
}
