package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"tradecore/internal/perf"
	"tradecore/internal/storage"
)

// Generator produces performance reports from the completed-trade store.
type Generator struct {
	aggregator *perf.Aggregator
	now        func() time.Time // injectable clock for deterministic output
}

// NewGenerator creates a report generator reading from the given store.
func NewGenerator(records storage.TradeRecordStore) *Generator {
	return &Generator{
		aggregator: perf.NewAggregator(records),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report over trades whose exit time falls within
// [start, end]. Both bounds zero covers everything; a zero end with a nonzero
// start leaves the window open above. An empty window yields a report with
// empty sections rather than an error.
func (g *Generator) Generate(ctx context.Context, start, end int64) (*Report, error) {
	report := &Report{
		GeneratedAt: g.now(),
		WindowStart: start,
		WindowEnd:   end,
	}

	overall, err := g.aggregator.ComputeOverall(ctx, start, end)
	if err != nil {
		if errors.Is(err, perf.ErrNoTrades) {
			return report, nil
		}
		return nil, err
	}

	groups, err := g.aggregator.ComputeGroups(ctx, start, end)
	if err != nil {
		return nil, err
	}

	report.Summary = buildSummary(overall)
	report.Groups = buildGroupRows(groups)
	report.Reasons = buildReasonRows(overall)
	return report, nil
}

func buildSummary(overall *perf.Aggregate) Summary {
	return Summary{
		TotalTrades:          overall.TotalTrades,
		Wins:                 overall.Wins,
		Losses:               overall.Losses,
		WinRate:              overall.WinRate,
		GrossRTotal:          overall.GrossRTotal,
		CostRTotal:           overall.CostRTotal,
		NetRTotal:            overall.NetRTotal,
		MaxDrawdownR:         overall.MaxDrawdownR,
		MaxConsecutiveLosses: overall.MaxConsecutiveLosses,
	}
}

// buildGroupRows maps aggregates onto table rows. The aggregator already
// returns groups in render order.
func buildGroupRows(groups []*perf.Aggregate) []GroupRow {
	rows := make([]GroupRow, len(groups))
	for i, agg := range groups {
		rows[i] = GroupRow{
			TradeMode:            string(agg.TradeMode),
			Timeframe:            string(agg.Timeframe),
			TotalTrades:          agg.TotalTrades,
			Wins:                 agg.Wins,
			Losses:               agg.Losses,
			WinRate:              agg.WinRate,
			NetRTotal:            agg.NetRTotal,
			NetRMean:             agg.NetRMean,
			NetRMedian:           agg.NetRMedian,
			NetRP10:              agg.NetRP10,
			NetRP90:              agg.NetRP90,
			NetRStddev:           agg.NetRStddev,
			MaxDrawdownR:         agg.MaxDrawdownR,
			MaxConsecutiveLosses: agg.MaxConsecutiveLosses,
		}
	}
	return rows
}

func buildReasonRows(overall *perf.Aggregate) []ReasonRow {
	if overall.TotalTrades == 0 || len(overall.ByReason) == 0 {
		return nil
	}

	rows := make([]ReasonRow, 0, len(overall.ByReason))
	for reason, count := range overall.ByReason {
		rows = append(rows, ReasonRow{
			Reason: string(reason),
			Count:  count,
			Share:  float64(count) / float64(overall.TotalTrades),
		})
	}

	// Sort by count DESC, reason ASC for deterministic output
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Reason < rows[j].Reason
	})
	return rows
}
