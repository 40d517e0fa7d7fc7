package replay

import (
	"sort"

	"tradecore/internal/domain"
)

// SortEvents orders events by (timestamp ASC, type, tie-breaker).
// Signals sort before the candle sharing their timestamp: a signal is
// generated on its decision bar, so it must be admitted before the run
// for that bar fills pending orders. Within a type, candles break ties
// by (symbol, timeframe) and signals by id.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return compareEvents(events[i], events[j]) < 0
	})
}

// MergeStream combines closed candles and signals into a sorted event
// stream. Signal events take their timestamp from the decision bar.
func MergeStream(candleList []domain.Candle, signals []domain.Signal) []Event {
	events := make([]Event, 0, len(candleList)+len(signals))

	for _, c := range candleList {
		events = append(events, Event{
			Type:      EventTypeCandle,
			Timestamp: c.TimestampMs,
			Candle:    c,
		})
	}

	for _, s := range signals {
		events = append(events, Event{
			Type:      EventTypeSignal,
			Timestamp: s.DecisionBar,
			Signal:    s,
		})
	}

	SortEvents(events)
	return events
}

// compareEvents returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (timestamp ASC, signal before candle, per-type tie-breaker).
func compareEvents(a, b Event) int {
	if a.Timestamp != b.Timestamp {
		if a.Timestamp < b.Timestamp {
			return -1
		}
		return 1
	}
	if a.Type != b.Type {
		if a.Type == EventTypeSignal {
			return -1
		}
		return 1
	}
	switch a.Type {
	case EventTypeSignal:
		return compareStrings(a.Signal.ID, b.Signal.ID)
	default:
		if c := compareStrings(a.Candle.Symbol, b.Candle.Symbol); c != 0 {
			return c
		}
		return compareStrings(string(a.Candle.Timeframe), string(b.Candle.Timeframe))
	}
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
