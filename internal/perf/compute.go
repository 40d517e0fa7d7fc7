package perf

import (
	"math"
	"sort"

	"tradecore/internal/domain"
)

// Aggregate summarizes completed trades for one (trade_mode, timeframe)
// group, or for an entire run when both key fields are empty.
type Aggregate struct {
	TradeMode domain.TradeMode `json:"trade_mode,omitempty"`
	Timeframe domain.Timeframe `json:"timeframe,omitempty"`

	// Counts
	TotalTrades int     `json:"total_trades"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	WinRate     float64 `json:"win_rate"`

	// R totals
	GrossRTotal float64 `json:"gross_r_total"`
	CostRTotal  float64 `json:"cost_r_total"`
	NetRTotal   float64 `json:"net_r_total"`

	// Net R distribution
	NetRMean   float64 `json:"net_r_mean"`
	NetRMedian float64 `json:"net_r_median"`
	NetRP10    float64 `json:"net_r_p10"`
	NetRP90    float64 `json:"net_r_p90"`
	NetRMin    float64 `json:"net_r_min"`
	NetRMax    float64 `json:"net_r_max"`
	NetRStddev float64 `json:"net_r_stddev"`

	// Sequence metrics, computed over trades in exit order
	MaxDrawdownR         float64 `json:"max_drawdown_r"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`

	// Exit reason breakdown
	ByReason map[domain.ExitReason]int `json:"by_reason"`
}

// computeFromRecords calculates all aggregate fields from a slice of
// completed trades. Records are sorted by ExitTime ASC, TradeID ASC before
// computing order-dependent metrics (MaxDrawdownR, MaxConsecutiveLosses),
// so the result is deterministic regardless of input order.
func computeFromRecords(records []*domain.TradeRecord) *Aggregate {
	n := len(records)
	if n == 0 {
		return &Aggregate{ByReason: make(map[domain.ExitReason]int)}
	}

	sorted := make([]*domain.TradeRecord, n)
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ExitTime != sorted[j].ExitTime {
			return sorted[i].ExitTime < sorted[j].ExitTime
		}
		return sorted[i].TradeID < sorted[j].TradeID
	})

	wins := 0
	losses := 0
	byReason := make(map[domain.ExitReason]int)
	var grossTotal, costTotal float64
	for _, r := range sorted {
		if r.OutcomeClass == domain.OutcomeClassWin {
			wins++
		} else {
			losses++
		}
		byReason[r.ExitReason]++
		grossTotal += r.GrossR
		costTotal += r.CostR
	}

	// Net R series in exit order for the sequence metrics
	outcomes := make([]float64, n)
	for i, r := range sorted {
		outcomes[i] = r.NetR
	}

	sortedOutcomes := make([]float64, n)
	copy(sortedOutcomes, outcomes)
	sort.Float64s(sortedOutcomes)

	mean := computeMean(outcomes)

	return &Aggregate{
		TotalTrades: n,
		Wins:        wins,
		Losses:      losses,
		WinRate:     computeWinRate(wins, n),

		GrossRTotal: grossTotal,
		CostRTotal:  costTotal,
		NetRTotal:   grossTotal - costTotal,

		NetRMean:   mean,
		NetRMedian: computePercentile(sortedOutcomes, 0.50),
		NetRP10:    computePercentile(sortedOutcomes, 0.10),
		NetRP90:    computePercentile(sortedOutcomes, 0.90),
		NetRMin:    sortedOutcomes[0],
		NetRMax:    sortedOutcomes[n-1],
		NetRStddev: computeStddev(outcomes, mean),

		MaxDrawdownR:         computeMaxDrawdown(outcomes),
		MaxConsecutiveLosses: computeMaxConsecutiveLosses(outcomes),

		ByReason: byReason,
	}
}

// computeWinRate calculates win rate as wins / total.
func computeWinRate(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total)
}

// computeMean calculates arithmetic mean of outcomes.
func computeMean(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	sum := 0.0
	for _, o := range outcomes {
		sum += o
	}
	return sum / float64(len(outcomes))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(outcomes []float64, mean float64) float64 {
	n := len(outcomes)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, o := range outcomes {
		diff := o - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC. p is the percentile (0.10 = 10th).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxDrawdown calculates the worst peak-to-trough distance on the
// cumulative net R curve. Outcomes must be in exit order.
func computeMaxDrawdown(outcomes []float64) float64 {
	if len(outcomes) == 0 {
		return 0
	}

	cumulative := 0.0
	peak := 0.0
	maxDrawdown := 0.0

	for _, o := range outcomes {
		cumulative += o
		if cumulative > peak {
			peak = cumulative
		}
		drawdown := peak - cumulative
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// computeMaxConsecutiveLosses finds the longest streak of net R <= 0.
// Outcomes must be in exit order.
func computeMaxConsecutiveLosses(outcomes []float64) int {
	maxStreak := 0
	currentStreak := 0

	for _, o := range outcomes {
		if o <= 0 {
			currentStreak++
			if currentStreak > maxStreak {
				maxStreak = currentStreak
			}
		} else {
			currentStreak = 0
		}
	}
	return maxStreak
}
