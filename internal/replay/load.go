package replay

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"tradecore/internal/domain"
)

// LoadCandlesCSV reads closed bars from a CSV file with columns:
//
//	symbol,timeframe,timestamp_ms,open,high,low,close,volume
//
// A single header row is allowed. Bars are returned in file order,
// marked closed.
func LoadCandlesCSV(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []domain.Candle
	sawFirst := false
	rowNum := 0
	for {
		row, err := r.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rowNum++
		if len(row) == 0 {
			continue
		}

		// Allow a single header row
		if !sawFirst {
			sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "symbol") {
				continue
			}
		}

		c, err := parseCandleRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		out = append(out, c)
	}
}

func parseCandleRow(row []string) (domain.Candle, error) {
	if len(row) < 8 {
		return domain.Candle{}, fmt.Errorf("expected 8 columns, got %d", len(row))
	}

	symbol := strings.TrimSpace(row[0])
	if symbol == "" {
		return domain.Candle{}, fmt.Errorf("empty symbol")
	}

	tf := domain.Timeframe(strings.TrimSpace(row[1]))
	if !tf.IsValid() {
		return domain.Candle{}, fmt.Errorf("bad timeframe %q", row[1])
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(row[2]), 10, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad timestamp %q: %w", row[2], err)
	}

	var ohlcv [5]float64
	for i, name := range [5]string{"open", "high", "low", "close", "volume"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[3+i]), 64)
		if err != nil {
			return domain.Candle{}, fmt.Errorf("bad %s %q: %w", name, row[3+i], err)
		}
		ohlcv[i] = v
	}

	return domain.Candle{
		Symbol:      symbol,
		Timeframe:   tf,
		TimestampMs: ts,
		Open:        ohlcv[0],
		High:        ohlcv[1],
		Low:         ohlcv[2],
		Close:       ohlcv[3],
		Volume:      ohlcv[4],
		Closed:      true,
	}, nil
}

// LoadSignalsJSON reads a JSON array of signals. Field names follow the
// signal contract (id, symbol, timeframe, direction, tradeMode, entryType,
// entry, stopLoss, takeProfit, plannedRR, score, timestamp, decisionBar).
func LoadSignalsJSON(path string) ([]domain.Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var signals []domain.Signal
	if err := json.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("parse signals: %w", err)
	}

	for i, s := range signals {
		if s.ID == "" {
			return nil, fmt.Errorf("signal %d: missing id", i)
		}
		if s.DecisionBar == 0 {
			return nil, fmt.Errorf("signal %s: missing decisionBar", s.ID)
		}
	}
	return signals, nil
}
