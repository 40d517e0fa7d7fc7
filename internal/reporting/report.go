package reporting

import "time"

// Report is the renderable view of one performance window.
type Report struct {
	GeneratedAt time.Time
	WindowStart int64 // Unix ms, 0 = open bound
	WindowEnd   int64 // Unix ms, 0 = open bound

	// Summary covers every completed trade in the window
	Summary Summary

	// Groups breaks the window down by (trade_mode, timeframe),
	// sorted by trade mode then bar interval
	Groups []GroupRow

	// Reasons breaks completions down by exit reason,
	// sorted by count DESC then reason ASC
	Reasons []ReasonRow
}

// Summary holds window-wide counts and R totals.
type Summary struct {
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	GrossRTotal float64
	CostRTotal  float64
	NetRTotal   float64

	MaxDrawdownR         float64
	MaxConsecutiveLosses int
}

// GroupRow represents one row in the mode/timeframe breakdown table.
type GroupRow struct {
	TradeMode string
	Timeframe string

	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	NetRTotal  float64
	NetRMean   float64
	NetRMedian float64
	NetRP10    float64
	NetRP90    float64
	NetRStddev float64

	MaxDrawdownR         float64
	MaxConsecutiveLosses int
}

// ReasonRow represents one exit reason with its share of all completions.
type ReasonRow struct {
	Reason string
	Count  int
	Share  float64
}
