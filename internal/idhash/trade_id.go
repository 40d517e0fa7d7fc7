package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"tradecore/internal/domain"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(signal_id|symbol|timeframe|entry_bar_ts)
// Returns hex-encoded hash (64 characters).
//
// The same signal filled on the same bar always maps to the same trade,
// which keeps replays from minting duplicate positions.
func ComputeTradeID(
	signalID string,
	symbol string,
	timeframe domain.Timeframe,
	entryBarTs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d",
		signalID,
		symbol,
		string(timeframe),
		entryBarTs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
