package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"tradecore/internal/domain"
)

// ComputeOrderID computes a deterministic pending-order id using SHA256.
// Formula: SHA256("order"|signal_id|symbol|timeframe|decision_bar_ts)
// Returns hex-encoded hash (64 characters).
//
// Keyed on the decision bar rather than the fill bar: the order exists
// before any fill, and re-admitting the same signal is a no-op. The
// "order" tag keeps the id distinct from the trade id a market fill on
// the same bar would produce.
func ComputeOrderID(
	signalID string,
	symbol string,
	timeframe domain.Timeframe,
	decisionBarTs int64,
) string {
	data := fmt.Sprintf("order|%s|%s|%s|%d",
		signalID,
		symbol,
		string(timeframe),
		decisionBarTs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
