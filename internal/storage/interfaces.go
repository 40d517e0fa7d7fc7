package storage

import (
	"context"

	"tradecore/internal/domain"
)

// StateStore persists opaque engine snapshots under well-known keys. The
// engine serializes its own collections; the store only needs durable
// load/save semantics, not a specific storage technology.
type StateStore interface {
	// Save writes data under key, replacing any previous value.
	Save(ctx context.Context, key string, data []byte) error

	// Load retrieves the value stored under key. Returns ErrNotFound if
	// the key has never been saved.
	Load(ctx context.Context, key string) ([]byte, error)

	// Delete removes the value under key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}

// TradeRecordStore provides access to completed-trade storage.
type TradeRecordStore interface {
	// Insert adds a completed trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.TradeRecord) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error)

	// GetBySymbol retrieves all trades for a symbol, ordered by exit time ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeRecord, error)

	// GetByTimeRange retrieves trades whose exit time falls within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.TradeRecord, error)

	// GetAll retrieves all trades, ordered by exit time ASC.
	GetAll(ctx context.Context) ([]*domain.TradeRecord, error)
}

// CandleArchive provides access to historical candle storage, used to seed
// the in-memory candle store and to audit decisions after the fact.
type CandleArchive interface {
	// InsertBatch appends a batch of closed candles.
	InsertBatch(ctx context.Context, candles []domain.Candle) error

	// GetRange retrieves candles for (symbol, timeframe) within [start, end]
	// (inclusive), ordered by timestamp ASC.
	GetRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end int64) ([]domain.Candle, error)

	// GetLastN retrieves the most recent n candles for (symbol, timeframe),
	// ordered by timestamp ASC.
	GetLastN(ctx context.Context, symbol string, tf domain.Timeframe, n int) ([]domain.Candle, error)
}
