package domain

import "time"

// Timeframe identifies the bar interval of a candle series.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe3m  Timeframe = "3m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe6h  Timeframe = "6h"
	Timeframe12h Timeframe = "12h"
	Timeframe1d  Timeframe = "1d"
)

// Category is the coarse trading-horizon bucket used for daily budgets.
type Category string

const (
	CategoryShort  Category = "SHORT"  // sub-30m timeframes
	CategoryMedium Category = "MEDIUM" // 30m through 4h
	CategoryLong   Category = "LONG"   // 6h and up
)

// String returns the string representation of Timeframe.
func (tf Timeframe) String() string {
	return string(tf)
}

// Duration returns the bar interval, or 0 for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe3m:
		return 3 * time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe2h:
		return 2 * time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe6h:
		return 6 * time.Hour
	case Timeframe12h:
		return 12 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsValid checks if the timeframe is a known value.
func (tf Timeframe) IsValid() bool {
	return tf.Duration() > 0
}

// Category maps the timeframe onto its budget bucket.
func (tf Timeframe) Category() Category {
	switch tf {
	case Timeframe1m, Timeframe3m, Timeframe5m, Timeframe15m:
		return CategoryShort
	case Timeframe30m, Timeframe1h, Timeframe2h, Timeframe4h:
		return CategoryMedium
	default:
		return CategoryLong
	}
}
