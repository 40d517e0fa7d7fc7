package perf

import (
	"context"
	"errors"
	"math"
	"sort"

	"tradecore/internal/domain"
	"tradecore/internal/storage"
)

// ErrNoTrades is returned when no completed trades fall in the requested window.
var ErrNoTrades = errors.New("no completed trades to aggregate")

// Aggregator computes performance aggregates from the completed-trade store.
type Aggregator struct {
	records storage.TradeRecordStore
}

// NewAggregator creates an aggregator reading from the given store.
func NewAggregator(records storage.TradeRecordStore) *Aggregator {
	return &Aggregator{records: records}
}

// load fetches records for the window. Both bounds zero loads everything;
// a zero end with a nonzero start means no upper bound.
func (a *Aggregator) load(ctx context.Context, start, end int64) ([]*domain.TradeRecord, error) {
	if start == 0 && end == 0 {
		return a.records.GetAll(ctx)
	}
	if end == 0 {
		end = math.MaxInt64
	}
	return a.records.GetByTimeRange(ctx, start, end)
}

// ComputeOverall computes a single aggregate over every completed trade whose
// exit time falls within [start, end]. Returns ErrNoTrades when the window is
// empty.
func (a *Aggregator) ComputeOverall(ctx context.Context, start, end int64) (*Aggregate, error) {
	records, err := a.load(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoTrades
	}
	return computeFromRecords(records), nil
}

// ComputeGroups computes one aggregate per (trade_mode, timeframe) pair seen
// in the window, sorted by trade mode ASC then bar interval ASC. Returns
// ErrNoTrades when the window is empty.
func (a *Aggregator) ComputeGroups(ctx context.Context, start, end int64) ([]*Aggregate, error) {
	records, err := a.load(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoTrades
	}
	return groupRecords(records), nil
}

// groupRecords partitions records by (trade_mode, timeframe) and computes an
// aggregate per partition.
func groupRecords(records []*domain.TradeRecord) []*Aggregate {
	type key struct {
		mode domain.TradeMode
		tf   domain.Timeframe
	}
	groups := make(map[key][]*domain.TradeRecord)
	for _, r := range records {
		k := key{mode: r.Signal.TradeMode, tf: r.Signal.Timeframe}
		groups[k] = append(groups[k], r)
	}

	out := make([]*Aggregate, 0, len(groups))
	for k, recs := range groups {
		agg := computeFromRecords(recs)
		agg.TradeMode = k.mode
		agg.Timeframe = k.tf
		out = append(out, agg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].TradeMode != out[j].TradeMode {
			return out[i].TradeMode < out[j].TradeMode
		}
		di, dj := out[i].Timeframe.Duration(), out[j].Timeframe.Duration()
		if di != dj {
			return di < dj
		}
		return out[i].Timeframe < out[j].Timeframe
	})
	return out
}
