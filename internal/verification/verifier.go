// Package verification checks that persisted trade records are
// reproducible. A verifier replays the recorded inputs through a fresh
// engine and compares every stored record against its replayed
// counterpart field by field.
package verification

import (
	"context"
	"fmt"
	"math"

	"tradecore/internal/domain"
)

// FloatTolerance bounds float comparisons. Stored floats round trip
// exactly through JSON and postgres float8, so drift beyond this means
// the replay really diverged.
const FloatTolerance = 1e-9

// FieldDivergence records one mismatch between a stored record and its
// replayed counterpart.
type FieldDivergence struct {
	Field    string
	Stored   any
	Replayed any
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s: stored %v, replayed %v", d.Field, d.Stored, d.Replayed)
}

// Result is the outcome of verifying a single trade.
type Result struct {
	TradeID     string
	Match       bool
	Divergences []FieldDivergence

	StoredNetR   float64
	ReplayedNetR float64
}

// Report aggregates results for a batch verification.
type Report struct {
	TotalTrades     int
	MatchedTrades   int
	DivergentTrades int

	// ExtraTrades counts replayed completions with no stored
	// counterpart, usually a sign the store predates the inputs.
	ExtraTrades int

	Results []Result
}

// Verifier re-executes recorded inputs and compares outcomes against
// the persisted records.
type Verifier interface {
	// VerifyTrade verifies a single stored trade by id.
	VerifyTrade(ctx context.Context, tradeID string) (*Result, error)

	// VerifyAll verifies every stored trade.
	VerifyAll(ctx context.Context) (*Report, error)
}

// CompareTradeRecords compares two completed trades and returns the
// divergent fields. Floats are compared within FloatTolerance,
// everything else exactly.
func CompareTradeRecords(stored, replayed *domain.TradeRecord) []FieldDivergence {
	var d diffList

	d.str("TradeID", stored.TradeID, replayed.TradeID)
	d.str("SignalID", stored.Signal.ID, replayed.Signal.ID)

	d.num("EntryPrice", stored.EntryPrice, replayed.EntryPrice)
	d.i64("EntryTime", stored.EntryTime, replayed.EntryTime)
	d.i64("EntryBar", stored.EntryBar, replayed.EntryBar)
	d.num("RiskDistance", stored.RiskDistance, replayed.RiskDistance)
	d.num("InitialSize", stored.InitialSize, replayed.InitialSize)

	d.flag("TP1Hit", stored.TP1Hit, replayed.TP1Hit)
	d.num("TP1Price", stored.TP1Price, replayed.TP1Price)
	d.i64("TP1Bar", stored.TP1Bar, replayed.TP1Bar)
	d.num("LockedR", stored.LockedR, replayed.LockedR)
	d.num("RunnerSize", stored.RunnerSize, replayed.RunnerSize)

	d.num("StopPrice", stored.StopPrice, replayed.StopPrice)
	d.flag("BreakevenActive", stored.BreakevenActive, replayed.BreakevenActive)
	d.numPtr("TrailingStop", stored.TrailingStop, replayed.TrailingStop)
	d.num("HighWaterR", stored.HighWaterR, replayed.HighWaterR)

	d.num("EntryCostR", stored.EntryCostR, replayed.EntryCostR)
	d.i64("BarsHeld", int64(stored.BarsHeld), int64(replayed.BarsHeld))

	d.num("ExitPrice", stored.ExitPrice, replayed.ExitPrice)
	d.i64("ExitTime", stored.ExitTime, replayed.ExitTime)
	d.i64("ExitBar", stored.ExitBar, replayed.ExitBar)
	d.str("ExitReason", string(stored.ExitReason), string(replayed.ExitReason))

	d.num("GrossR", stored.GrossR, replayed.GrossR)
	d.num("CostR", stored.CostR, replayed.CostR)
	d.num("NetR", stored.NetR, replayed.NetR)
	d.str("OutcomeClass", stored.OutcomeClass, replayed.OutcomeClass)

	return d
}

// diffList accumulates divergences while walking the record fields.
type diffList []FieldDivergence

func (d *diffList) add(field string, stored, replayed any) {
	*d = append(*d, FieldDivergence{Field: field, Stored: stored, Replayed: replayed})
}

func (d *diffList) str(field, stored, replayed string) {
	if stored != replayed {
		d.add(field, stored, replayed)
	}
}

func (d *diffList) i64(field string, stored, replayed int64) {
	if stored != replayed {
		d.add(field, stored, replayed)
	}
}

func (d *diffList) flag(field string, stored, replayed bool) {
	if stored != replayed {
		d.add(field, stored, replayed)
	}
}

func (d *diffList) num(field string, stored, replayed float64) {
	if !floatEquals(stored, replayed) {
		d.add(field, stored, replayed)
	}
}

func (d *diffList) numPtr(field string, stored, replayed *float64) {
	if !floatPtrEquals(stored, replayed) {
		d.add(field, stored, replayed)
	}
}

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) <= FloatTolerance
}

// floatPtrEquals treats two nils as equal and nil against a value as
// divergent.
func floatPtrEquals(a, b *float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return floatEquals(*a, *b)
}
