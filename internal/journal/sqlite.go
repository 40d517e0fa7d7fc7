package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"tradecore/internal/domain"
)

// SQLite journals trades into a single-file sqlite database.
type SQLite struct {
	db    *sql.DB
	runID string
}

// NewSQLite opens (or creates) the database at path and ensures the schema.
func NewSQLite(path, runID string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db, runID: runID}, nil
}

func (j *SQLite) RecordTrade(t domain.TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(run_id, trade_id, symbol, timeframe, direction, trade_mode,
		 entry_price, exit_price, entry_time, exit_time, bars_held,
		 exit_reason, gross_r, cost_r, net_r, outcome_class)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.runID, t.TradeID, t.Signal.Symbol, string(t.Signal.Timeframe),
		string(t.Signal.Direction), string(t.Signal.TradeMode),
		t.EntryPrice, t.ExitPrice, t.EntryTime, t.ExitTime, t.BarsHeld,
		string(t.ExitReason), t.GrossR, t.CostR, t.NetR, t.OutcomeClass,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
