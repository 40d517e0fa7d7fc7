package replay

import (
	"tradecore/internal/domain"
)

// EventType represents the type of event.
type EventType string

// Event type constants.
const (
	EventTypeCandle EventType = "candle"
	EventTypeSignal EventType = "signal"
)

// Event represents a unified event for replay (closed candle or signal).
// Only one of Candle or Signal is set based on Type. Timestamp is the
// ordering key: the candle's bar timestamp, or the signal's decision bar.
type Event struct {
	Type      EventType
	Timestamp int64
	Candle    domain.Candle
	Signal    domain.Signal
}
