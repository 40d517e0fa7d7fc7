package domain

import "math"

// Direction represents the trade side.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a valid value.
func (d Direction) IsValid() bool {
	return d == DirectionLong || d == DirectionShort
}

// Sign returns +1 for longs and -1 for shorts, for direction-aware price math.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// TradeMode represents the strategy regime a signal was generated under.
type TradeMode string

const (
	TradeModeTrend         TradeMode = "TREND"
	TradeModeMeanReversion TradeMode = "MEAN_REVERSION"
)

// String returns the string representation of TradeMode.
func (m TradeMode) String() string {
	return string(m)
}

// IsValid checks if the trade mode is a valid value.
func (m TradeMode) IsValid() bool {
	return m == TradeModeTrend || m == TradeModeMeanReversion
}

// EntryType represents how a signal converts into a position.
type EntryType string

const (
	EntryTypeMarket EntryType = "MARKET" // fill at the decision bar's close
	EntryTypeLimit  EntryType = "LIMIT"  // wait for a retrace to the entry price
)

// String returns the string representation of EntryType.
func (e EntryType) String() string {
	return string(e)
}

// IsValid checks if the entry type is a valid value.
func (e EntryType) IsValid() bool {
	return e == EntryTypeMarket || e == EntryTypeLimit
}

// Signal represents an entry proposal from the strategy engine.
// The core never judges signal quality; Score is carried through for the
// caller's admission logic.
type Signal struct {
	ID          string    // strategy-assigned identifier
	Symbol      string    // instrument identifier
	Timeframe   Timeframe // bar interval the signal was generated on
	Direction   Direction
	TradeMode   TradeMode
	EntryType   EntryType
	Entry       float64 // requested entry price
	StopLoss    float64 // initial protective stop
	TakeProfit  float64 // final target price
	PlannedRR   float64 // risk:reward the target was planned at
	Score       float64 // strategy quality score (pass-through)
	Timestamp   int64   // generation time (ms)
	DecisionBar int64   // timestamp of the bar it was generated on (ms)
}

// RiskDistance returns the absolute entry-to-stop distance.
func (s Signal) RiskDistance() float64 {
	return math.Abs(s.Entry - s.StopLoss)
}

// HasValidRisk reports whether the risk distance is positive and finite.
// Signals failing this are never converted into a position.
func (s Signal) HasValidRisk() bool {
	d := s.RiskDistance()
	return d > 0 && !math.IsNaN(d) && !math.IsInf(d, 0)
}
