package perf

import (
	"math"
	"testing"

	"tradecore/internal/domain"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

// record builds a completed trade with consistent R accounting: the cost leg
// is fixed at 0.04R so GrossR is always NetR + 0.04, and the outcome class
// follows the sign of NetR the way the exit machine assigns it.
func record(id string, netR float64, exitTime int64, reason domain.ExitReason) *domain.TradeRecord {
	outcome := domain.OutcomeClassLoss
	if netR > 0 {
		outcome = domain.OutcomeClassWin
	}
	return &domain.TradeRecord{
		TradeState: domain.TradeState{
			TradeID: id,
			Signal: domain.Signal{
				ID:        "sig-" + id,
				Symbol:    "BTCUSDT",
				Timeframe: domain.Timeframe15m,
				TradeMode: domain.TradeModeTrend,
			},
		},
		ExitTime:     exitTime,
		ExitReason:   reason,
		GrossR:       netR + 0.04,
		CostR:        0.04,
		NetR:         netR,
		OutcomeClass: outcome,
	}
}

func TestComputeFromRecords_Empty(t *testing.T) {
	agg := computeFromRecords(nil)

	if agg.TotalTrades != 0 {
		t.Errorf("expected TotalTrades 0, got %d", agg.TotalTrades)
	}
	if agg.ByReason == nil {
		t.Error("expected non-nil ByReason map")
	}
	if agg.WinRate != 0 {
		t.Errorf("expected WinRate 0, got %f", agg.WinRate)
	}
}

func TestComputeFromRecords_CountsAndTotals(t *testing.T) {
	records := []*domain.TradeRecord{
		record("t1", 1.00, 1000, domain.ExitReasonRunnerTP),
		record("t2", -1.04, 2000, domain.ExitReasonInitialSL),
		record("t3", 0.64, 3000, domain.ExitReasonRunnerSL),
		record("t4", -0.14, 4000, domain.ExitReasonBEHit),
		record("t5", 2.46, 5000, domain.ExitReasonRunnerTP),
	}

	agg := computeFromRecords(records)

	if agg.TotalTrades != 5 {
		t.Errorf("expected TotalTrades 5, got %d", agg.TotalTrades)
	}
	if agg.Wins != 3 {
		t.Errorf("expected Wins 3, got %d", agg.Wins)
	}
	if agg.Losses != 2 {
		t.Errorf("expected Losses 2, got %d", agg.Losses)
	}
	if !almostEqual(agg.WinRate, 0.6) {
		t.Errorf("expected WinRate 0.6, got %f", agg.WinRate)
	}

	// 5 trades at 0.04R cost each
	if !almostEqual(agg.CostRTotal, 0.20) {
		t.Errorf("expected CostRTotal 0.20, got %f", agg.CostRTotal)
	}
	wantNet := 1.00 - 1.04 + 0.64 - 0.14 + 2.46
	if !almostEqual(agg.NetRTotal, wantNet) {
		t.Errorf("expected NetRTotal %f, got %f", wantNet, agg.NetRTotal)
	}
	if !almostEqual(agg.GrossRTotal-agg.CostRTotal, agg.NetRTotal) {
		t.Errorf("expected NetRTotal = GrossRTotal - CostRTotal, got %f vs %f",
			agg.GrossRTotal-agg.CostRTotal, agg.NetRTotal)
	}
}

func TestComputeFromRecords_SortsByExitTime(t *testing.T) {
	// In exit order the net R series is +1.0, -0.5, -0.5, +2.0:
	// cumulative 1.0, 0.5, 0.0, 2.0 → max drawdown 1.0 from the first peak.
	// Input is shuffled so a correct result proves the sort happens.
	records := []*domain.TradeRecord{
		record("t3", -0.5, 3000, domain.ExitReasonInitialSL),
		record("t1", 1.0, 1000, domain.ExitReasonRunnerTP),
		record("t4", 2.0, 4000, domain.ExitReasonRunnerTP),
		record("t2", -0.5, 2000, domain.ExitReasonInitialSL),
	}

	agg := computeFromRecords(records)

	if !almostEqual(agg.MaxDrawdownR, 1.0) {
		t.Errorf("expected MaxDrawdownR 1.0, got %f", agg.MaxDrawdownR)
	}
	if agg.MaxConsecutiveLosses != 2 {
		t.Errorf("expected MaxConsecutiveLosses 2, got %d", agg.MaxConsecutiveLosses)
	}
}

func TestComputeFromRecords_TieBreaksOnTradeID(t *testing.T) {
	// Same exit time: t-a sorts before t-b, so the loss lands after the win
	// and the drawdown is 0.5 rather than 0.
	records := []*domain.TradeRecord{
		{
			TradeState:   domain.TradeState{TradeID: "t-b"},
			ExitTime:     1000,
			NetR:         -0.5,
			OutcomeClass: domain.OutcomeClassLoss,
			ExitReason:   domain.ExitReasonInitialSL,
		},
		{
			TradeState:   domain.TradeState{TradeID: "t-a"},
			ExitTime:     1000,
			NetR:         1.0,
			OutcomeClass: domain.OutcomeClassWin,
			ExitReason:   domain.ExitReasonRunnerTP,
		},
	}

	agg := computeFromRecords(records)

	if !almostEqual(agg.MaxDrawdownR, 0.5) {
		t.Errorf("expected MaxDrawdownR 0.5, got %f", agg.MaxDrawdownR)
	}
}

func TestComputeFromRecords_SingleTrade(t *testing.T) {
	agg := computeFromRecords([]*domain.TradeRecord{
		record("t1", 0.64, 1000, domain.ExitReasonRunnerSL),
	})

	if agg.TotalTrades != 1 {
		t.Errorf("expected TotalTrades 1, got %d", agg.TotalTrades)
	}
	if !almostEqual(agg.NetRMean, 0.64) || !almostEqual(agg.NetRMedian, 0.64) {
		t.Errorf("expected mean and median 0.64, got %f and %f", agg.NetRMean, agg.NetRMedian)
	}
	if !almostEqual(agg.NetRMin, 0.64) || !almostEqual(agg.NetRMax, 0.64) {
		t.Errorf("expected min and max 0.64, got %f and %f", agg.NetRMin, agg.NetRMax)
	}
	if agg.NetRStddev != 0 {
		t.Errorf("expected stddev 0 for single trade, got %f", agg.NetRStddev)
	}
}

func TestComputeFromRecords_ByReason(t *testing.T) {
	records := []*domain.TradeRecord{
		record("t1", 1.0, 1000, domain.ExitReasonRunnerTP),
		record("t2", -1.0, 2000, domain.ExitReasonInitialSL),
		record("t3", -1.0, 3000, domain.ExitReasonInitialSL),
		record("t4", 0.3, 4000, domain.ExitReasonSoftStop),
	}

	agg := computeFromRecords(records)

	if agg.ByReason[domain.ExitReasonInitialSL] != 2 {
		t.Errorf("expected 2 INITIAL_SL exits, got %d", agg.ByReason[domain.ExitReasonInitialSL])
	}
	if agg.ByReason[domain.ExitReasonRunnerTP] != 1 {
		t.Errorf("expected 1 RUNNER_TP exit, got %d", agg.ByReason[domain.ExitReasonRunnerTP])
	}
	if agg.ByReason[domain.ExitReasonSoftStop] != 1 {
		t.Errorf("expected 1 SOFT_STOP exit, got %d", agg.ByReason[domain.ExitReasonSoftStop])
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}

	if got := computePercentile(sorted, 0.50); !almostEqual(got, 3) {
		t.Errorf("expected p50 3, got %f", got)
	}
	// idx = 0.1 * 4 = 0.4 → 1 + 0.4*(2-1)
	if got := computePercentile(sorted, 0.10); !almostEqual(got, 1.4) {
		t.Errorf("expected p10 1.4, got %f", got)
	}
	// idx = 0.9 * 4 = 3.6 → 4 + 0.6*(5-4)
	if got := computePercentile(sorted, 0.90); !almostEqual(got, 4.6) {
		t.Errorf("expected p90 4.6, got %f", got)
	}
	if got := computePercentile([]float64{7}, 0.90); !almostEqual(got, 7) {
		t.Errorf("expected single-element percentile 7, got %f", got)
	}
	if got := computePercentile(nil, 0.50); got != 0 {
		t.Errorf("expected empty percentile 0, got %f", got)
	}
}

func TestComputeStddev(t *testing.T) {
	outcomes := []float64{1, 2, 3, 4, 5}
	mean := computeMean(outcomes)

	// sum of squared diffs = 10, sample variance = 10/4
	want := math.Sqrt(2.5)
	if got := computeStddev(outcomes, mean); !almostEqual(got, want) {
		t.Errorf("expected stddev %f, got %f", want, got)
	}

	if got := computeStddev([]float64{1}, 1); got != 0 {
		t.Errorf("expected stddev 0 for n<2, got %f", got)
	}
}

func TestComputeMaxDrawdown(t *testing.T) {
	// cumulative: 1, 3, 2, 0.5, 1.5 → peak 3, trough 0.5
	outcomes := []float64{1, 2, -1, -1.5, 1}
	if got := computeMaxDrawdown(outcomes); !almostEqual(got, 2.5) {
		t.Errorf("expected drawdown 2.5, got %f", got)
	}

	if got := computeMaxDrawdown([]float64{1, 2, 3}); got != 0 {
		t.Errorf("expected drawdown 0 for monotonic gains, got %f", got)
	}
	if got := computeMaxDrawdown(nil); got != 0 {
		t.Errorf("expected drawdown 0 for empty, got %f", got)
	}
}

func TestComputeMaxConsecutiveLosses(t *testing.T) {
	// Zero counts as a loss: streaks are 1 (start), then 3, then 0
	outcomes := []float64{-1, 2, -1, 0, -0.5, 3}
	if got := computeMaxConsecutiveLosses(outcomes); got != 3 {
		t.Errorf("expected streak 3, got %d", got)
	}

	if got := computeMaxConsecutiveLosses([]float64{1, 2}); got != 0 {
		t.Errorf("expected streak 0 for all wins, got %d", got)
	}
}
