package journal

import (
	"encoding/csv"
	"os"
	"strconv"

	"tradecore/internal/domain"
)

// CSV journals trades into a flat file, one row per completed trade.
// Rows are flushed on every record so a crashed run still leaves a
// readable file.
type CSV struct {
	w     *csv.Writer
	f     *os.File
	runID string
}

var csvHeader = []string{
	"run_id", "trade_id", "symbol", "timeframe", "direction", "trade_mode",
	"entry_price", "exit_price", "entry_time", "exit_time", "bars_held",
	"exit_reason", "gross_r", "cost_r", "net_r", "outcome_class",
}

// NewCSV creates the file at path and writes the header row.
func NewCSV(path, runID string) (*CSV, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, err
	}

	return &CSV{w: w, f: f, runID: runID}, nil
}

func (j *CSV) RecordTrade(t domain.TradeRecord) error {
	err := j.w.Write([]string{
		j.runID,
		t.TradeID,
		t.Signal.Symbol,
		string(t.Signal.Timeframe),
		string(t.Signal.Direction),
		string(t.Signal.TradeMode),
		f(t.EntryPrice),
		f(t.ExitPrice),
		strconv.FormatInt(t.EntryTime, 10),
		strconv.FormatInt(t.ExitTime, 10),
		strconv.Itoa(t.BarsHeld),
		string(t.ExitReason),
		f(t.GrossR),
		f(t.CostR),
		f(t.NetR),
		t.OutcomeClass,
	})
	if err != nil {
		return err
	}

	j.w.Flush()
	return j.w.Error()
}

func (j *CSV) Close() error {
	j.w.Flush()
	if err := j.w.Error(); err != nil {
		return err
	}
	return j.f.Close()
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
