package domain

// Candle represents a single OHLCV bar in a (symbol, timeframe) series.
// A forming candle is provisional and may be replaced in place; a closed
// candle is immutable.
type Candle struct {
	Symbol      string    // instrument identifier
	Timeframe   Timeframe // bar interval
	TimestampMs int64     // bar open timestamp (ms), identifies the bar
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	Closed      bool // false while the bar is still forming
}
