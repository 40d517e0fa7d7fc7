package journal

import (
	"sync"

	"tradecore/internal/domain"
)

// Fake collects recorded trades in memory for tests.
type Fake struct {
	mu     sync.Mutex
	Trades []domain.TradeRecord
	Closed bool

	// RecordErr, when set, is returned by RecordTrade to exercise the
	// caller's failure handling.
	RecordErr error
}

func (j *Fake) RecordTrade(t domain.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.RecordErr != nil {
		return j.RecordErr
	}
	j.Trades = append(j.Trades, t)
	return nil
}

func (j *Fake) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.Closed = true
	return nil
}
