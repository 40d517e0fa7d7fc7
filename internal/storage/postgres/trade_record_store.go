package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tradecore/internal/domain"
	"tradecore/internal/storage"
)

// TradeRecordStore implements storage.TradeRecordStore using PostgreSQL.
type TradeRecordStore struct {
	pool *Pool
}

// NewTradeRecordStore creates a new TradeRecordStore.
func NewTradeRecordStore(pool *Pool) *TradeRecordStore {
	return &TradeRecordStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeRecordStore = (*TradeRecordStore)(nil)

const tradeRecordColumns = `
	trade_id, signal_id, symbol, timeframe, direction, trade_mode, entry_type,
	signal_entry, signal_stop, signal_target, planned_rr, score, signal_time, decision_bar,
	entry_price, entry_time, entry_bar, risk_distance, initial_size,
	tp1_hit, tp1_price, tp1_bar, locked_r, runner_size,
	stop_price, breakeven_active, trailing_stop, high_water_r,
	entry_cost_r, bars_held,
	exit_price, exit_time, exit_bar, exit_reason,
	gross_r, cost_r, net_r, outcome_class
`

const tradeRecordPlaceholders = `
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19,
	$20, $21, $22, $23, $24,
	$25, $26, $27, $28,
	$29, $30,
	$31, $32, $33, $34,
	$35, $36, $37, $38
`

func tradeRecordArgs(t *domain.TradeRecord) []any {
	return []any{
		t.TradeID, t.Signal.ID, t.Signal.Symbol, string(t.Signal.Timeframe), string(t.Signal.Direction), string(t.Signal.TradeMode), string(t.Signal.EntryType),
		t.Signal.Entry, t.Signal.StopLoss, t.Signal.TakeProfit, t.Signal.PlannedRR, t.Signal.Score, t.Signal.Timestamp, t.Signal.DecisionBar,
		t.EntryPrice, t.EntryTime, t.EntryBar, t.RiskDistance, t.InitialSize,
		t.TP1Hit, t.TP1Price, t.TP1Bar, t.LockedR, t.RunnerSize,
		t.StopPrice, t.BreakevenActive, t.TrailingStop, t.HighWaterR,
		t.EntryCostR, t.BarsHeld,
		t.ExitPrice, t.ExitTime, t.ExitBar, string(t.ExitReason),
		t.GrossR, t.CostR, t.NetR, t.OutcomeClass,
	}
}

// Insert adds a completed trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeRecordStore) Insert(ctx context.Context, t *domain.TradeRecord) error {
	if t == nil || t.TradeID == "" {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO trade_records (` + tradeRecordColumns + `) VALUES (` + tradeRecordPlaceholders + `)`
	if _, err := s.pool.Exec(ctx, query, tradeRecordArgs(t)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade record: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeRecordStore) InsertBulk(ctx context.Context, trades []*domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO trade_records (` + tradeRecordColumns + `) VALUES (` + tradeRecordPlaceholders + `)`
	for _, t := range trades {
		if t == nil || t.TradeID == "" {
			return storage.ErrInvalidInput
		}
		if _, err := tx.Exec(ctx, query, tradeRecordArgs(t)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade record in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(ctx context.Context, tradeID string) (*domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordColumns + ` FROM trade_records WHERE trade_id = $1`

	row := s.pool.QueryRow(ctx, query, tradeID)
	t, err := scanTradeRecord(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade record by id: %w", err)
	}
	return t, nil
}

// GetBySymbol retrieves all trades for a symbol, ordered by exit time ASC.
func (s *TradeRecordStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordColumns + ` FROM trade_records
		WHERE symbol = $1
		ORDER BY exit_time ASC, trade_id ASC`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get trade records by symbol: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetByTimeRange retrieves trades whose exit time falls within [start, end] (inclusive).
func (s *TradeRecordStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordColumns + ` FROM trade_records
		WHERE exit_time >= $1 AND exit_time <= $2
		ORDER BY exit_time ASC, trade_id ASC`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("get trade records by time range: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// GetAll retrieves all trades, ordered by exit time ASC.
func (s *TradeRecordStore) GetAll(ctx context.Context) ([]*domain.TradeRecord, error) {
	query := `SELECT ` + tradeRecordColumns + ` FROM trade_records
		ORDER BY exit_time ASC, trade_id ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all trade records: %w", err)
	}
	defer rows.Close()

	return scanTradeRecords(rows)
}

// scanTradeRecord scans a single row into a TradeRecord. Persisted trades
// are always completed, so the phase and remaining size are implied.
func scanTradeRecord(row pgx.Row) (*domain.TradeRecord, error) {
	var t domain.TradeRecord
	var timeframe, direction, tradeMode, entryType, exitReason string

	err := row.Scan(
		&t.TradeID, &t.Signal.ID, &t.Signal.Symbol, &timeframe, &direction, &tradeMode, &entryType,
		&t.Signal.Entry, &t.Signal.StopLoss, &t.Signal.TakeProfit, &t.Signal.PlannedRR, &t.Signal.Score, &t.Signal.Timestamp, &t.Signal.DecisionBar,
		&t.EntryPrice, &t.EntryTime, &t.EntryBar, &t.RiskDistance, &t.InitialSize,
		&t.TP1Hit, &t.TP1Price, &t.TP1Bar, &t.LockedR, &t.RunnerSize,
		&t.StopPrice, &t.BreakevenActive, &t.TrailingStop, &t.HighWaterR,
		&t.EntryCostR, &t.BarsHeld,
		&t.ExitPrice, &t.ExitTime, &t.ExitBar, &exitReason,
		&t.GrossR, &t.CostR, &t.NetR, &t.OutcomeClass,
	)
	if err != nil {
		return nil, err
	}

	t.Signal.Timeframe = domain.Timeframe(timeframe)
	t.Signal.Direction = domain.Direction(direction)
	t.Signal.TradeMode = domain.TradeMode(tradeMode)
	t.Signal.EntryType = domain.EntryType(entryType)
	t.ExitReason = domain.ExitReason(exitReason)
	t.Phase = domain.PhaseCompleted
	return &t, nil
}

// scanTradeRecords scans multiple rows into a slice of TradeRecord.
func scanTradeRecords(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var trades []*domain.TradeRecord

	for rows.Next() {
		t, err := scanTradeRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade record row: %w", err)
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade record rows: %w", err)
	}
	return trades, nil
}
