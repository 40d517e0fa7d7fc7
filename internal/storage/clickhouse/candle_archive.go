package clickhouse

import (
	"context"
	"fmt"

	"tradecore/internal/domain"
	"tradecore/internal/storage"
)

// CandleArchive implements storage.CandleArchive using ClickHouse.
// The candles table is a ReplacingMergeTree keyed on
// (symbol, timeframe, timestamp_ms), so re-inserting a bar replaces it
// after merge instead of failing.
type CandleArchive struct {
	conn *Conn
}

// NewCandleArchive creates a new CandleArchive.
func NewCandleArchive(conn *Conn) *CandleArchive {
	return &CandleArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleArchive = (*CandleArchive)(nil)

// InsertBatch appends a batch of closed candles. Forming candles are
// rejected; the archive only holds immutable bars.
func (s *CandleArchive) InsertBatch(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for _, c := range candles {
		if !c.Closed {
			return fmt.Errorf("%w: forming candle %s %s @ %d", storage.ErrInvalidInput, c.Symbol, c.Timeframe, c.TimestampMs)
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			symbol, timeframe, timestamp_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.Symbol, string(c.Timeframe), uint64(c.TimestampMs),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetRange retrieves candles within [start, end] (inclusive), ordered by timestamp ASC.
func (s *CandleArchive) GetRange(ctx context.Context, symbol string, tf domain.Timeframe, start, end int64) ([]domain.Candle, error) {
	query := `
		SELECT symbol, timeframe, timestamp_ms, open, high, low, close, volume
		FROM candles FINAL
		WHERE symbol = ? AND timeframe = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetLastN retrieves the most recent n candles, ordered by timestamp ASC.
func (s *CandleArchive) GetLastN(ctx context.Context, symbol string, tf domain.Timeframe, n int) ([]domain.Candle, error) {
	if n <= 0 {
		return nil, nil
	}

	query := `
		SELECT symbol, timeframe, timestamp_ms, open, high, low, close, volume
		FROM candles FINAL
		WHERE symbol = ? AND timeframe = ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, symbol, string(tf), n)
	if err != nil {
		return nil, fmt.Errorf("query last candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}

	// Query returns newest first; callers want chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Rows interface for scanning
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanCandles scans multiple rows. Archived candles are closed by definition.
func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle
		var timeframe string
		var timestampMs uint64

		err := rows.Scan(
			&c.Symbol, &timeframe, &timestampMs,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Timeframe = domain.Timeframe(timeframe)
		c.TimestampMs = int64(timestampMs)
		c.Closed = true
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}

	return candles, nil
}
