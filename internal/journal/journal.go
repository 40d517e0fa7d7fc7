// Package journal appends completed trades to a durable, human-auditable
// record, separate from the queryable trade stores. Rows are tagged with a
// run id so trades from different replay runs group naturally.
package journal

import "tradecore/internal/domain"

// Journal is an append-only sink for completed trades.
type Journal interface {
	RecordTrade(domain.TradeRecord) error
	Close() error
}

// Nop discards everything. Used when no journal is configured.
type Nop struct{}

func (Nop) RecordTrade(domain.TradeRecord) error { return nil }
func (Nop) Close() error                         { return nil }
