package orchestrator

import (
	"errors"
	"io"
	"log"
	"math"
	"testing"

	"tradecore/internal/candles"
	"tradecore/internal/costs"
	"tradecore/internal/domain"
	"tradecore/internal/entry"
	"tradecore/internal/exit"
	"tradecore/internal/governor"
	"tradecore/internal/journal"
	"tradecore/internal/profile"
	"tradecore/internal/tradebook"
)

const barMs = int64(15 * 60 * 1000)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func trendProfile() profile.ExitProfile {
	return profile.ExitProfile{
		TP1R:              1.0,
		TP1Portion:        0.6,
		RunnerPortion:     0.4,
		RunnerStopR:       0.1,
		BreakevenTriggerR: 0.5,
		BreakevenLockR:    0.1,
		Ratchet: []profile.RatchetTier{
			{TriggerR: 1.0, LockR: 0.5},
			{TriggerR: 1.5, LockR: 1.0},
		},
		SoftMaxBars: 6,
		MaxRRCap:    5.0,
	}
}

func testTable() profile.Table {
	return profile.Table{
		domain.Timeframe15m: {
			domain.TradeModeTrend: trendProfile(),
		},
	}
}

func bar(n int, high, low, close float64) domain.Candle {
	return domain.Candle{
		Symbol:      "BTCUSDT",
		Timeframe:   domain.Timeframe15m,
		TimestampMs: int64(n) * barMs,
		Open:        close,
		High:        high,
		Low:         low,
		Close:       close,
		Closed:      true,
	}
}

func marketSignal(id string, entry, stop float64, decisionBar int64) domain.Signal {
	return domain.Signal{
		ID:          id,
		Symbol:      "BTCUSDT",
		Timeframe:   domain.Timeframe15m,
		Direction:   domain.DirectionLong,
		TradeMode:   domain.TradeModeTrend,
		EntryType:   domain.EntryTypeMarket,
		Entry:       entry,
		StopLoss:    stop,
		TakeProfit:  entry + 3*(entry-stop),
		PlannedRR:   3,
		Score:       0.7,
		Timestamp:   decisionBar,
		DecisionBar: decisionBar,
	}
}

func limitSignal(id string, entry, stop float64, decisionBar int64) domain.Signal {
	sig := marketSignal(id, entry, stop, decisionBar)
	sig.EntryType = domain.EntryTypeLimit
	return sig
}

type testEngine struct {
	*Engine
	store    *candles.Store
	book     *tradebook.Book
	governor *governor.Governor
	journal  *journal.Fake
}

func newTestEngine(limits governor.Limits) *testEngine {
	store := candles.NewStore(nil)
	book := tradebook.NewBook(tradebook.Options{Logger: log.New(io.Discard, "", 0)})
	gov := governor.New(limits)
	jrn := &journal.Fake{}

	eng := New(Options{
		Candles:  store,
		Book:     book,
		Governor: gov,
		Machine:  exit.NewMachine(costs.Rates{}),
		Resolver: entry.NewResolver(costs.Rates{}, entry.Options{}),
		Profiles: testTable(),
		Journal:  jrn,
		Logger:   log.New(io.Discard, "", 0),
	})
	return &testEngine{Engine: eng, store: store, book: book, governor: gov, journal: jrn}
}

// closeBar pushes a closed candle into the store and runs the pipeline
// for it, the way a market-data callback would.
func (e *testEngine) closeBar(t *testing.T, c domain.Candle) Delta {
	t.Helper()
	e.store.Update(c, true)
	return e.RunOnClose(c.Symbol, c.Timeframe, c.TimestampMs)
}

func TestEngine_MarketFillOnClose(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.6, 100)
	e.store.Update(decision, true)

	order, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs)
	if err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}

	delta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs)

	if len(delta.ConsumedPending) != 1 || delta.ConsumedPending[0].OrderID != order.OrderID {
		t.Fatalf("consumed = %v, want order %s", delta.ConsumedPending, order.OrderID)
	}
	if len(delta.UpdatedActive) != 1 {
		t.Fatalf("updated = %v, want the fresh fill", delta.UpdatedActive)
	}
	tr := delta.UpdatedActive[0]
	if tr.EntryPrice != 100 {
		t.Errorf("EntryPrice = %f, want 100 with zero rates", tr.EntryPrice)
	}
	if tr.Phase != domain.PhaseActive {
		t.Errorf("phase = %s, want ACTIVE", tr.Phase)
	}

	if _, ok := e.book.GetActive(tr.TradeID); !ok {
		t.Error("filled trade missing from active tracking")
	}
	if got := e.book.PendingForKey("BTCUSDT", domain.Timeframe15m); len(got) != 0 {
		t.Errorf("pending orders after fill = %v", got)
	}
}

func TestEngine_DuplicateCloseIsNoOp(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.6, 100)
	e.store.Update(decision, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}

	first := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs)
	if first.Empty() {
		t.Fatal("first run should fill the pending order")
	}

	second := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs)
	if !second.Empty() {
		t.Errorf("second run for the same timestamp produced %+v", second)
	}

	// Older timestamps are skipped too; processing stays ordered.
	older := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs-barMs)
	if !older.Empty() {
		t.Errorf("out-of-order run produced %+v", older)
	}
}

func TestEngine_SeparateKeysDoNotShareWatermarks(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	btc := bar(1, 100.4, 99.6, 100)
	e.store.Update(btc, true)
	e.RunOnClose("BTCUSDT", domain.Timeframe15m, btc.TimestampMs)

	eth := bar(1, 100.4, 99.6, 100)
	eth.Symbol = "ETHUSDT"
	e.store.Update(eth, true)

	sig := marketSignal("sig-eth", 100, 98, eth.TimestampMs)
	sig.Symbol = "ETHUSDT"
	if _, err := e.AdmitSignal(sig, eth.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal eth: %v", err)
	}

	delta := e.RunOnClose("ETHUSDT", domain.Timeframe15m, eth.TimestampMs)
	if delta.Empty() {
		t.Error("same timestamp on a different key should still process")
	}
}

func TestEngine_NoClosedCandleIsRetryable(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.6, 100)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}

	// Store never saw a candle: empty delta, watermark untouched.
	if delta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs); !delta.Empty() {
		t.Fatalf("run without history produced %+v", delta)
	}

	// After seeding, the same timestamp processes normally.
	e.store.Update(decision, true)
	if delta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs); delta.Empty() {
		t.Error("retry after seeding should process the bar")
	}
}

func TestEngine_CompletionJournalsAndStartsCooldown(t *testing.T) {
	e := newTestEngine(governor.Limits{CooldownBars: 2})

	fill := bar(1, 100.4, 99.6, 100)
	e.store.Update(fill, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, fill.TimestampMs), fill.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}
	e.RunOnClose("BTCUSDT", domain.Timeframe15m, fill.TimestampMs)

	// Next bar trades straight through the stop.
	stopBar := bar(2, 100.1, 97.5, 97.8)
	delta := e.closeBar(t, stopBar)

	if len(delta.Completed) != 1 {
		t.Fatalf("completed = %v, want one stop-out", delta.Completed)
	}
	rec := delta.Completed[0]
	if rec.ExitReason != domain.ExitReasonInitialSL {
		t.Errorf("reason = %s, want %s", rec.ExitReason, domain.ExitReasonInitialSL)
	}
	if !almostEqual(rec.GrossR, -1.0) {
		t.Errorf("GrossR = %f, want -1.0", rec.GrossR)
	}

	if _, ok := e.book.GetActive(rec.TradeID); ok {
		t.Error("completed trade still in active tracking")
	}
	if got := e.book.Completed(0); len(got) != 1 || got[0].TradeID != rec.TradeID {
		t.Errorf("completed ring = %v", got)
	}
	if len(e.journal.Trades) != 1 || e.journal.Trades[0].TradeID != rec.TradeID {
		t.Errorf("journal = %v", e.journal.Trades)
	}

	// The key is cooling down from the exit bar.
	dec := e.governor.Check("BTCUSDT", domain.Timeframe15m, stopBar.TimestampMs+barMs)
	if dec.Allowed {
		t.Error("expected cooldown to block re-entry on the next bar")
	}
}

func TestEngine_ProfileGapSkipsOnlyThatTrade(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	// One position with no profile for its mode, one healthy sibling.
	broken := &domain.TradeState{
		TradeID: "broken",
		Signal: domain.Signal{
			ID: "sig-b", Symbol: "BTCUSDT", Timeframe: domain.Timeframe15m,
			Direction: domain.DirectionLong, TradeMode: domain.TradeModeMeanReversion,
			EntryType: domain.EntryTypeMarket, Entry: 100, StopLoss: 98, PlannedRR: 3,
		},
		Phase: domain.PhaseActive, EntryPrice: 100, RiskDistance: 2,
		InitialSize: 1, CurrentSize: 1, StopPrice: 98,
	}
	healthy := &domain.TradeState{
		TradeID: "healthy",
		Signal: domain.Signal{
			ID: "sig-h", Symbol: "BTCUSDT", Timeframe: domain.Timeframe15m,
			Direction: domain.DirectionLong, TradeMode: domain.TradeModeTrend,
			EntryType: domain.EntryTypeMarket, Entry: 100, StopLoss: 98, PlannedRR: 3,
		},
		Phase: domain.PhaseActive, EntryPrice: 100, RiskDistance: 2,
		InitialSize: 1, CurrentSize: 1, StopPrice: 98,
	}
	e.book.UpsertActive(broken)
	e.book.UpsertActive(healthy)

	delta := e.closeBar(t, bar(1, 100.1, 97.5, 97.8))

	if len(delta.Completed) != 1 || delta.Completed[0].TradeID != "healthy" {
		t.Fatalf("completed = %v, want the healthy sibling stopped out", delta.Completed)
	}
	if _, ok := e.book.GetActive("broken"); !ok {
		t.Error("unsteppable trade should stay in active tracking")
	}
}

func TestEngine_LimitOrderWaitsThenFills(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.8, 100)
	e.store.Update(decision, true)
	order, err := e.AdmitSignal(limitSignal("sig-1", 99.5, 98, decision.TimestampMs), decision.TimestampMs)
	if err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}

	// First bar never retraces to 99.5: order stays pending with its wait
	// counter advanced.
	delta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs)
	if !delta.Empty() {
		t.Fatalf("untouched limit produced %+v", delta)
	}
	pend := e.book.PendingForKey("BTCUSDT", domain.Timeframe15m)
	if len(pend) != 1 || pend[0].BarsWaited != 1 {
		t.Fatalf("pending = %+v, want BarsWaited 1", pend)
	}

	// Second bar dips to the requested price: exact fill.
	delta = e.closeBar(t, bar(2, 100.2, 99.4, 100))
	if len(delta.UpdatedActive) != 1 {
		t.Fatalf("updated = %v, want the limit fill", delta.UpdatedActive)
	}
	if got := delta.UpdatedActive[0].EntryPrice; got != 99.5 {
		t.Errorf("EntryPrice = %f, want the exact requested 99.5", got)
	}
	if len(delta.ConsumedPending) != 1 || delta.ConsumedPending[0].OrderID != order.OrderID {
		t.Errorf("consumed = %v", delta.ConsumedPending)
	}
}

func TestEngine_LimitOrderExpires(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.8, 100)
	e.store.Update(decision, true)
	order, err := e.AdmitSignal(limitSignal("sig-1", 99.5, 98, decision.TimestampMs), decision.TimestampMs)
	if err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}

	// Default TTL is 6 bars; none of them retrace.
	var delta Delta
	for n := 1; n <= 6; n++ {
		delta = e.closeBar(t, bar(n, 100.4, 99.8, 100))
	}

	if len(delta.ConsumedPending) != 1 || delta.ConsumedPending[0].OrderID != order.OrderID {
		t.Fatalf("consumed = %v, want the expired order", delta.ConsumedPending)
	}
	if len(delta.UpdatedActive) != 0 {
		t.Errorf("expired order produced a position: %v", delta.UpdatedActive)
	}
	if got := e.book.PendingForKey("BTCUSDT", domain.Timeframe15m); len(got) != 0 {
		t.Errorf("pending after expiry = %v", got)
	}
}

func TestEngine_TickPathExitsWithoutEntries(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.6, 100)
	e.store.Update(decision, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}
	fillDelta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs)
	if len(fillDelta.UpdatedActive) != 1 {
		t.Fatalf("setup fill failed: %+v", fillDelta)
	}

	// A second limit order waits; the tick path must not touch it.
	if _, err := e.AdmitSignal(limitSignal("sig-2", 99.5, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal limit: %v", err)
	}

	nowMs := decision.TimestampMs + barMs/2
	delta := e.RunOnTick("BTCUSDT", domain.Timeframe15m, 97.9, nowMs)

	if len(delta.Completed) != 1 {
		t.Fatalf("completed = %v, want the intrabar stop-out", delta.Completed)
	}
	rec := delta.Completed[0]
	if rec.ExitReason != domain.ExitReasonInitialSL {
		t.Errorf("reason = %s, want %s", rec.ExitReason, domain.ExitReasonInitialSL)
	}
	if rec.ExitBar != decision.TimestampMs {
		t.Errorf("ExitBar = %d, want attribution to the last closed bar %d", rec.ExitBar, decision.TimestampMs)
	}
	if len(delta.ConsumedPending) != 0 {
		t.Errorf("tick path consumed pending orders: %v", delta.ConsumedPending)
	}
	if got := e.book.PendingForKey("BTCUSDT", domain.Timeframe15m); len(got) != 1 {
		t.Errorf("pending after tick = %v, want the waiting limit untouched", got)
	}
}

func TestEngine_TickDedupAbsorbsRapidRepeats(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.6, 100)
	e.store.Update(decision, true)
	e.book.UpsertActive(&domain.TradeState{
		TradeID: "t1",
		Signal: domain.Signal{
			ID: "sig-1", Symbol: "BTCUSDT", Timeframe: domain.Timeframe15m,
			Direction: domain.DirectionLong, TradeMode: domain.TradeModeTrend,
			EntryType: domain.EntryTypeMarket, Entry: 100, StopLoss: 98, PlannedRR: 3,
		},
		Phase: domain.PhaseActive, EntryPrice: 100, RiskDistance: 2,
		InitialSize: 1, CurrentSize: 1, StopPrice: 98,
	})

	nowMs := decision.TimestampMs + 1000

	// Favorable tick arms breakeven; the immediate repeat is absorbed.
	first := e.RunOnTick("BTCUSDT", domain.Timeframe15m, 101.1, nowMs)
	if len(first.UpdatedActive) != 1 {
		t.Fatalf("first tick delta = %+v", first)
	}
	second := e.RunOnTick("BTCUSDT", domain.Timeframe15m, 101.1, nowMs+100)
	if !second.Empty() {
		t.Errorf("repeat tick inside the dedup window produced %+v", second)
	}
}

func TestEngine_AdmitSignalDeniedByBudget(t *testing.T) {
	e := newTestEngine(governor.Limits{GlobalDaily: 1})

	decision := bar(1, 100.4, 99.6, 100)
	e.store.Update(decision, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("first AdmitSignal: %v", err)
	}
	e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs)

	// The fill consumed the only budget slot.
	_, err := e.AdmitSignal(marketSignal("sig-2", 100, 98, decision.TimestampMs), decision.TimestampMs+barMs)
	if !errors.Is(err, ErrAdmissionDenied) {
		t.Fatalf("err = %v, want ErrAdmissionDenied", err)
	}

	if _, pending, _ := e.book.Counts(); pending != 0 {
		t.Errorf("denied signal still entered the book: %d pending", pending)
	}
}

func TestEngine_AdmitSignalRejectsInvalid(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	sig := marketSignal("sig-1", 100, 100, 0) // no risk distance
	if _, err := e.AdmitSignal(sig, 0); !errors.Is(err, entry.ErrInvalidSignal) {
		t.Fatalf("err = %v, want ErrInvalidSignal", err)
	}
}

func TestEngine_AdmitSignalTwiceIsIdempotent(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	sig := marketSignal("sig-1", 100, 98, barMs)
	first, err := e.AdmitSignal(sig, barMs)
	if err != nil {
		t.Fatalf("first AdmitSignal: %v", err)
	}
	second, err := e.AdmitSignal(sig, barMs)
	if err != nil {
		t.Fatalf("second AdmitSignal: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Errorf("order ids differ: %s vs %s", first.OrderID, second.OrderID)
	}
	if _, pending, _ := e.book.Counts(); pending != 1 {
		t.Errorf("pending = %d, want 1", pending)
	}
}

func TestEngine_ResetClearsWatermarks(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	decision := bar(1, 100.4, 99.6, 100)
	e.store.Update(decision, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}
	if delta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs); delta.Empty() {
		t.Fatal("setup run should process")
	}

	e.Reset()

	if active, pending, completed := e.book.Counts(); active+pending+completed != 0 {
		t.Errorf("book not cleared: %d/%d/%d", active, pending, completed)
	}

	// The processed watermark is gone; the same timestamp runs again.
	e.store.Update(decision, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, decision.TimestampMs), decision.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal after reset: %v", err)
	}
	if delta := e.RunOnClose("BTCUSDT", domain.Timeframe15m, decision.TimestampMs); delta.Empty() {
		t.Error("post-reset run for the same timestamp should process")
	}
}

func TestEngine_RunnerScenarioEndToEnd(t *testing.T) {
	e := newTestEngine(governor.Limits{})

	// Entry 100, stop 98, TP1 at 1R (102) for 0.6; runner 0.4 stopped at
	// +0.1R (100.2) once the partial fills.
	fill := bar(1, 100.4, 99.6, 100)
	e.store.Update(fill, true)
	if _, err := e.AdmitSignal(marketSignal("sig-1", 100, 98, fill.TimestampMs), fill.TimestampMs); err != nil {
		t.Fatalf("AdmitSignal: %v", err)
	}
	e.RunOnClose("BTCUSDT", domain.Timeframe15m, fill.TimestampMs)

	// Bar 2 tags the first target.
	delta := e.closeBar(t, bar(2, 102.2, 100.3, 101.8))
	if len(delta.UpdatedActive) != 1 {
		t.Fatalf("updated after TP1 = %+v", delta)
	}
	mid := delta.UpdatedActive[0]
	if mid.Phase != domain.PhaseRunnerActive {
		t.Errorf("phase = %s, want RUNNER_ACTIVE", mid.Phase)
	}
	if !almostEqual(mid.LockedR, 0.6) {
		t.Errorf("LockedR = %f, want 0.6", mid.LockedR)
	}

	// Bar 3 falls back to the runner stop.
	delta = e.closeBar(t, bar(3, 101.0, 100.1, 100.3))
	if len(delta.Completed) != 1 {
		t.Fatalf("completed after runner stop = %+v", delta)
	}
	rec := delta.Completed[0]
	if rec.ExitReason != domain.ExitReasonRunnerSL {
		t.Errorf("reason = %s, want %s", rec.ExitReason, domain.ExitReasonRunnerSL)
	}
	if !almostEqual(rec.GrossR, 0.64) {
		t.Errorf("GrossR = %f, want 0.6 + 0.4*0.1 = 0.64", rec.GrossR)
	}
}
