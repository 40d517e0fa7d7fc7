package reporting

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/storage/memory"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func makeCompleted(id string, mode domain.TradeMode, tf domain.Timeframe, netR float64, exitTime int64, reason domain.ExitReason) *domain.TradeRecord {
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
				Timeframe: tf,
				TradeMode: mode,
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

// setupRecords seeds two groups: three TREND/15m trades and one
// MEAN_REVERSION/1h trade, with one distinct exit reason per trade.
func setupRecords(t *testing.T) *memory.TradeRecordStore {
	t.Helper()
	ctx := context.Background()
	store := memory.NewTradeRecordStore()

	records := []*domain.TradeRecord{
		makeCompleted("t1", domain.TradeModeTrend, domain.Timeframe15m, 1.0, 1000, domain.ExitReasonRunnerTP),
		makeCompleted("t2", domain.TradeModeTrend, domain.Timeframe15m, -1.0, 2000, domain.ExitReasonInitialSL),
		makeCompleted("t3", domain.TradeModeMeanReversion, domain.Timeframe1h, 0.5, 3000, domain.ExitReasonTP1Full),
		makeCompleted("t4", domain.TradeModeTrend, domain.Timeframe15m, 0.3, 4000, domain.ExitReasonSoftStop),
	}
	if err := store.InsertBulk(ctx, records); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}
	return store
}

func TestGenerate_Summary(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	report, err := NewGenerator(store).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	s := report.Summary
	if s.TotalTrades != 4 {
		t.Errorf("expected TotalTrades 4, got %d", s.TotalTrades)
	}
	if s.Wins != 3 || s.Losses != 1 {
		t.Errorf("expected 3 wins 1 loss, got %d/%d", s.Wins, s.Losses)
	}
	if !almostEqual(s.WinRate, 0.75) {
		t.Errorf("expected WinRate 0.75, got %f", s.WinRate)
	}
	if !almostEqual(s.NetRTotal, 0.8) {
		t.Errorf("expected NetRTotal 0.8, got %f", s.NetRTotal)
	}
	if !almostEqual(s.CostRTotal, 0.16) {
		t.Errorf("expected CostRTotal 0.16, got %f", s.CostRTotal)
	}
	// Exit order 1.0, -1.0, 0.5, 0.3: cumulative peaks at 1.0 then drops to 0
	if !almostEqual(s.MaxDrawdownR, 1.0) {
		t.Errorf("expected MaxDrawdownR 1.0, got %f", s.MaxDrawdownR)
	}
	if s.MaxConsecutiveLosses != 1 {
		t.Errorf("expected MaxConsecutiveLosses 1, got %d", s.MaxConsecutiveLosses)
	}
}

func TestGenerate_GroupOrderAndValues(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	report, err := NewGenerator(store).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(report.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(report.Groups))
	}

	// MEAN_REVERSION sorts before TREND
	if report.Groups[0].TradeMode != "MEAN_REVERSION" || report.Groups[0].Timeframe != "1h" {
		t.Errorf("expected MEAN_REVERSION/1h first, got %s/%s",
			report.Groups[0].TradeMode, report.Groups[0].Timeframe)
	}

	trend := report.Groups[1]
	if trend.TradeMode != "TREND" || trend.Timeframe != "15m" {
		t.Fatalf("expected TREND/15m second, got %s/%s", trend.TradeMode, trend.Timeframe)
	}
	if trend.TotalTrades != 3 || trend.Wins != 2 || trend.Losses != 1 {
		t.Errorf("expected TREND/15m 3 trades 2/1, got %d trades %d/%d",
			trend.TotalTrades, trend.Wins, trend.Losses)
	}
	if !almostEqual(trend.NetRTotal, 0.3) {
		t.Errorf("expected TREND/15m NetRTotal 0.3, got %f", trend.NetRTotal)
	}
}

func TestGenerate_ReasonShares(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	report, err := NewGenerator(store).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(report.Reasons) != 4 {
		t.Fatalf("expected 4 reason rows, got %d", len(report.Reasons))
	}

	// All counts tie at 1, so rows sort by reason name
	wantOrder := []string{"INITIAL_SL", "RUNNER_TP", "SOFT_STOP", "TP1_FULL"}
	for i, want := range wantOrder {
		if report.Reasons[i].Reason != want {
			t.Errorf("reason %d: expected %s, got %s", i, want, report.Reasons[i].Reason)
		}
		if !almostEqual(report.Reasons[i].Share, 0.25) {
			t.Errorf("reason %d: expected share 0.25, got %f", i, report.Reasons[i].Share)
		}
	}
}

func TestGenerate_WithClock(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	fixedTime := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)
	report, err := NewGenerator(store).WithClock(func() time.Time { return fixedTime }).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !report.GeneratedAt.Equal(fixedTime) {
		t.Errorf("expected GeneratedAt %v, got %v", fixedTime, report.GeneratedAt)
	}
}

func TestGenerate_EmptyStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTradeRecordStore()

	report, err := NewGenerator(store).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if report.Summary.TotalTrades != 0 {
		t.Errorf("expected TotalTrades 0, got %d", report.Summary.TotalTrades)
	}
	if len(report.Groups) != 0 {
		t.Errorf("expected no groups, got %d", len(report.Groups))
	}
	if len(report.Reasons) != 0 {
		t.Errorf("expected no reasons, got %d", len(report.Reasons))
	}
}

func TestGenerate_Window(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	report, err := NewGenerator(store).Generate(ctx, 1500, 3500)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Only t2 (exit 2000) and t3 (exit 3000) fall in the window
	if report.Summary.TotalTrades != 2 {
		t.Errorf("expected TotalTrades 2, got %d", report.Summary.TotalTrades)
	}
	if report.WindowStart != 1500 || report.WindowEnd != 3500 {
		t.Errorf("expected window 1500..3500, got %d..%d", report.WindowStart, report.WindowEnd)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	ctx := context.Background()
	fixedClock := func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }

	var first *Report
	for run := 0; run < 5; run++ {
		store := setupRecords(t)
		report, err := NewGenerator(store).WithClock(fixedClock).Generate(ctx, 0, 0)
		if err != nil {
			t.Fatalf("run %d: Generate failed: %v", run, err)
		}

		if first == nil {
			first = report
			continue
		}

		if !report.GeneratedAt.Equal(first.GeneratedAt) {
			t.Errorf("run %d: GeneratedAt mismatch", run)
		}
		if report.Summary != first.Summary {
			t.Errorf("run %d: Summary mismatch", run)
		}
		if len(report.Groups) != len(first.Groups) {
			t.Fatalf("run %d: Groups length mismatch", run)
		}
		for i := range report.Groups {
			if report.Groups[i] != first.Groups[i] {
				t.Errorf("run %d: Groups[%d] mismatch", run, i)
			}
		}
		if len(report.Reasons) != len(first.Reasons) {
			t.Fatalf("run %d: Reasons length mismatch", run)
		}
		for i := range report.Reasons {
			if report.Reasons[i] != first.Reasons[i] {
				t.Errorf("run %d: Reasons[%d] mismatch", run, i)
			}
		}
	}
}

func TestRenderMarkdown_Format(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	report, err := NewGenerator(store).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	md := RenderMarkdown(report)

	requiredSections := []string{
		"# Trade Performance Report",
		"## Summary",
		"## By Mode and Timeframe",
		"## Exit Reasons",
	}
	for _, section := range requiredSections {
		if !strings.Contains(md, section) {
			t.Errorf("markdown missing section %q", section)
		}
	}

	if !strings.Contains(md, "| TREND | 15m | 3 |") {
		t.Error("markdown missing TREND/15m group row")
	}
	if !strings.Contains(md, "| Total Trades | 4 |") {
		t.Error("markdown missing summary trade count")
	}
	if !strings.Contains(md, "Window: all completed trades") {
		t.Error("markdown missing open window description")
	}
}

func TestRenderMarkdown_EmptyReport(t *testing.T) {
	report := &Report{GeneratedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)}

	md := RenderMarkdown(report)

	if !strings.Contains(md, "No completed trades in window.") {
		t.Error("expected empty-window summary text")
	}
	if !strings.Contains(md, "No group breakdown available.") {
		t.Error("expected empty group text")
	}
	if !strings.Contains(md, "No exit reason data available.") {
		t.Error("expected empty reason text")
	}
}

func TestRenderCSV_Format(t *testing.T) {
	ctx := context.Background()
	store := setupRecords(t)

	report, err := NewGenerator(store).Generate(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	csv := RenderCSV(report.Groups)
	lines := strings.Split(strings.TrimRight(csv, "\n"), "\n")

	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "trade_mode,timeframe,total_trades") {
		t.Errorf("unexpected CSV header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[1], "MEAN_REVERSION,1h,1,") {
		t.Errorf("unexpected first row: %s", lines[1])
	}
	if !strings.HasPrefix(lines[2], "TREND,15m,3,") {
		t.Errorf("unexpected second row: %s", lines[2])
	}
}
