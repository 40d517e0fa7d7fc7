// Package orchestrator drives the trade lifecycle for each (symbol,
// timeframe) key: it steps open positions through the exit state machine
// on every closed candle, resolves pending entries against the same bar,
// and reports what changed as a delta rather than a full snapshot.
//
// Two entry points feed the engine. RunOnClose is the full pipeline,
// guarded by a per-key in-flight token and a candle-timestamp idempotency
// check so duplicate or overlapping deliveries collapse to an empty delta.
// RunOnTick is the narrow intrabar path: exit steps only, no entries, no
// admission counters.
package orchestrator

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"tradecore/internal/candles"
	"tradecore/internal/domain"
	"tradecore/internal/entry"
	"tradecore/internal/exit"
	"tradecore/internal/governor"
	"tradecore/internal/journal"
	"tradecore/internal/observability"
	"tradecore/internal/profile"
	"tradecore/internal/tradebook"
)

// ErrAdmissionDenied rejects a signal that failed governor admission.
var ErrAdmissionDenied = errors.New("admission denied")

// Run status label values for the pipeline runs counter.
const (
	statusOK            = "ok"
	statusSkipInFlight  = "skip_in_flight"
	statusSkipDuplicate = "skip_duplicate"
	statusSkipNoCandle  = "skip_no_candle"
)

// Engine owns the lifecycle state for all keys: the run tokens, the
// processed-timestamp watermarks, and references to every collaborator.
// Construct with New; Reset returns the whole engine to a clean slate.
type Engine struct {
	candles  *candles.Store
	book     *tradebook.Book
	governor *governor.Governor
	machine  *exit.Machine
	resolver *entry.Resolver
	profiles profile.Table

	journal journal.Journal
	metrics *observability.Metrics
	logger  *log.Logger
	verbose bool

	mu            sync.Mutex
	inFlight      map[engineKey]bool
	lastProcessed map[engineKey]int64
}

type engineKey struct {
	symbol    string
	timeframe domain.Timeframe
}

// Options for creating an Engine.
type Options struct {
	// Required collaborators
	Candles  *candles.Store
	Book     *tradebook.Book
	Governor *governor.Governor
	Machine  *exit.Machine
	Resolver *entry.Resolver
	Profiles profile.Table

	// Optional
	Journal journal.Journal        // completed trades are appended here
	Metrics *observability.Metrics // nil disables instrumentation
	Logger  *log.Logger            // diagnostics channel; nil uses stderr
	Verbose bool
}

// New creates a new Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)
	}
	return &Engine{
		candles:       opts.Candles,
		book:          opts.Book,
		governor:      opts.Governor,
		machine:       opts.Machine,
		resolver:      opts.Resolver,
		profiles:      opts.Profiles,
		journal:       opts.Journal,
		metrics:       opts.Metrics,
		logger:        logger,
		verbose:       opts.Verbose,
		inFlight:      make(map[engineKey]bool),
		lastProcessed: make(map[engineKey]int64),
	}
}

// Delta reports what one invocation changed: open positions whose state
// advanced (fresh fills included), trades that completed, and pending
// orders consumed by a fill, expiry, or rejection. All entries are copies.
type Delta struct {
	UpdatedActive   []domain.TradeState
	Completed       []domain.TradeRecord
	ConsumedPending []domain.PendingOrder
}

// Empty reports whether the invocation changed nothing.
func (d Delta) Empty() bool {
	return len(d.UpdatedActive) == 0 && len(d.Completed) == 0 && len(d.ConsumedPending) == 0
}

// RunOnClose executes the full pipeline for one closed candle of (symbol,
// timeframe). closeTs is the candle-close timestamp of the delivered bar
// and doubles as the idempotency key: a timestamp at or below the key's
// watermark yields an empty delta, as does a run already in flight for the
// same key. The caller is expected to have pushed the bar into the candle
// store first; decisions read the last closed bar from there, never the
// forming one.
//
// Phases: step every open position for the key, resolve every pending
// order, then advance the watermark. The in-flight token is released on
// every path.
func (e *Engine) RunOnClose(symbol string, tf domain.Timeframe, closeTs int64) Delta {
	k := engineKey{symbol: symbol, timeframe: tf}

	e.mu.Lock()
	if e.inFlight[k] {
		e.mu.Unlock()
		e.log("skip %s %s @ %d: run already in flight", symbol, tf, closeTs)
		e.countRun("close", statusSkipInFlight)
		return Delta{}
	}
	if closeTs <= e.lastProcessed[k] {
		e.mu.Unlock()
		e.log("skip %s %s @ %d: timestamp already processed", symbol, tf, closeTs)
		e.countRun("close", statusSkipDuplicate)
		return Delta{}
	}
	e.inFlight[k] = true
	e.mu.Unlock()

	processed := false
	defer func() {
		e.mu.Lock()
		if processed && closeTs > e.lastProcessed[k] {
			e.lastProcessed[k] = closeTs
		}
		delete(e.inFlight, k)
		e.mu.Unlock()
	}()

	decision, ok := e.candles.LastClosed(symbol, tf)
	if !ok {
		// No history yet. Leave the watermark alone so the timestamp can
		// be retried once the store has been seeded.
		e.log("skip %s %s @ %d: no closed candle in store", symbol, tf, closeTs)
		e.countRun("close", statusSkipNoCandle)
		return Delta{}
	}
	processed = true

	var delta Delta

	for _, t := range e.activesForKey(symbol, tf) {
		e.stepActive(t, &delta, func(t *domain.TradeState, p profile.ExitProfile) exit.StepResult {
			return e.machine.StepOnClose(t, p, decision)
		})
	}
	e.fillPending(symbol, tf, decision, &delta)

	e.countRun("close", statusOK)
	e.updateBookGauges()
	e.log("run %s %s @ %d: %d updated, %d completed, %d consumed",
		symbol, tf, closeTs, len(delta.UpdatedActive), len(delta.Completed), len(delta.ConsumedPending))
	return delta
}

// RunOnTick steps every open position for (symbol, timeframe) against a
// live price. No entries resolve here and no admission counters move; the
// only job of this path is catching stop and target crossings between
// candle closes. Exits are attributed to the last closed bar. Rapid
// repeats for the same trade are absorbed by the machine's dedup window.
func (e *Engine) RunOnTick(symbol string, tf domain.Timeframe, price float64, nowMs int64) Delta {
	barTs := nowMs
	if last, ok := e.candles.LastClosed(symbol, tf); ok {
		barTs = last.TimestampMs
	}

	var delta Delta
	for _, t := range e.activesForKey(symbol, tf) {
		e.stepActive(t, &delta, func(t *domain.TradeState, p profile.ExitProfile) exit.StepResult {
			return e.machine.StepOnTick(t, p, price, barTs, nowMs)
		})
	}

	e.countRun("tick", statusOK)
	if !delta.Empty() {
		e.updateBookGauges()
	}
	return delta
}

// AdmitSignal validates a signal against the governor's budgets and the
// entry validity rules, then parks the resulting order in the pending
// book. Score is never judged here; callers apply the governor's score
// adjustment upstream. Re-admitting a signal that is already pending is a
// no-op returning the existing order's identity.
func (e *Engine) AdmitSignal(sig domain.Signal, nowMs int64) (domain.PendingOrder, error) {
	dec := e.governor.Check(sig.Symbol, sig.Timeframe, nowMs)
	if !dec.Allowed {
		codes := make([]string, len(dec.Violations))
		for i, v := range dec.Violations {
			codes[i] = v.Code
			if e.metrics != nil {
				e.metrics.SignalsDenied.WithLabelValues(v.Code).Inc()
			}
		}
		return domain.PendingOrder{}, fmt.Errorf("%w: %s", ErrAdmissionDenied, strings.Join(codes, ", "))
	}

	order, err := e.resolver.Admit(sig, nowMs)
	if err != nil {
		return domain.PendingOrder{}, err
	}

	if !e.book.AddPending(&order) {
		e.log("signal %s: order %s already pending", sig.ID, order.OrderID)
		return order, nil
	}
	if e.metrics != nil {
		e.metrics.SignalsAdmitted.Inc()
	}
	e.updateBookGauges()
	e.log("signal %s admitted as order %s (%s %s %s)", sig.ID, order.OrderID, sig.Symbol, sig.Timeframe, sig.EntryType)
	return order, nil
}

// ScoreAdjustment exposes the governor's pace bias for a key so callers
// can demand a higher quality score when the key trades over target.
func (e *Engine) ScoreAdjustment(symbol string, tf domain.Timeframe, atMs int64) float64 {
	return e.governor.ScoreAdjustment(symbol, tf, atMs)
}

// Reset returns the engine and every owned collaborator to a clean slate:
// run tokens, processed watermarks, tick dedup state, admission counters,
// and both candle and trade collections.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.inFlight = make(map[engineKey]bool)
	e.lastProcessed = make(map[engineKey]int64)
	e.mu.Unlock()

	e.machine.Reset()
	e.governor.Reset()
	e.candles.Reset()
	e.book.Reset()
	e.updateBookGauges()
}

type stepFunc func(*domain.TradeState, profile.ExitProfile) exit.StepResult

// stepActive advances one position and folds the outcome into the delta.
// A panic inside the step is confined to this position: it is logged to
// the diagnostics channel and siblings in the same run are unaffected.
func (e *Engine) stepActive(t *domain.TradeState, delta *Delta, step stepFunc) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("trade %s: step failed: %v", t.TradeID, r)
			if e.metrics != nil {
				e.metrics.StepFailures.Inc()
			}
		}
	}()

	prof, ok := e.profiles.Get(t.Signal.Timeframe, t.Signal.TradeMode)
	if !ok {
		e.logger.Printf("trade %s: no exit profile for %s %s", t.TradeID, t.Signal.Timeframe, t.Signal.TradeMode)
		return
	}
	eff := prof.Resolve(t.Signal.PlannedRR)

	res := step(t, eff)
	if res.Completed != nil {
		e.completeTrade(*res.Completed)
		delta.Completed = append(delta.Completed, *res.Completed)
		return
	}
	if res.Changed {
		e.book.UpsertActive(t)
		delta.UpdatedActive = append(delta.UpdatedActive, *t)
	}
}

// completeTrade moves a finished trade out of active tracking, starts the
// key's cooldown from the bar it exited on, and appends it to the journal.
// A journal failure is logged and never blocks the completion.
func (e *Engine) completeTrade(rec domain.TradeRecord) {
	e.book.RemoveActive(rec.TradeID)
	e.book.PushCompleted(rec)
	e.governor.RecordClose(rec.Signal.Symbol, rec.Signal.Timeframe, rec.ExitBar)

	if e.journal != nil {
		if err := e.journal.RecordTrade(rec); err != nil {
			e.logger.Printf("trade %s: journal write failed: %v", rec.TradeID, err)
			if e.metrics != nil {
				e.metrics.JournalWriteErrors.Inc()
			}
		}
	}
	if e.metrics != nil {
		e.metrics.CompletionsTotal.WithLabelValues(string(rec.ExitReason)).Inc()
		e.metrics.NetR.Observe(rec.NetR)
	}
	e.log("trade %s completed: %s net %.4fR", rec.TradeID, rec.ExitReason, rec.NetR)
}

// fillPending resolves every pending order for the key against the
// decision candle. Fills promote into active tracking and count with the
// governor exactly once, at fill time. Expired and rejected orders leave
// the book; still-pending limit orders keep their advanced wait counter.
func (e *Engine) fillPending(symbol string, tf domain.Timeframe, decision domain.Candle, delta *Delta) {
	orders := e.book.PendingForKey(symbol, tf)
	sort.Slice(orders, func(i, j int) bool { return orders[i].OrderID < orders[j].OrderID })

	for _, o := range orders {
		res := e.resolver.TryFill(o, decision)
		switch res.Status {
		case entry.StatusFilled:
			e.book.RemovePending(o.OrderID)
			e.book.UpsertActive(res.Trade)
			e.governor.RecordTrade(symbol, tf, res.Trade.EntryTime)
			delta.ConsumedPending = append(delta.ConsumedPending, *o)
			delta.UpdatedActive = append(delta.UpdatedActive, *res.Trade)
			if e.metrics != nil {
				e.metrics.FillsTotal.WithLabelValues(string(o.Signal.EntryType)).Inc()
			}
			e.log("order %s filled as trade %s @ %.4f", o.OrderID, res.Trade.TradeID, res.Trade.EntryPrice)

		case entry.StatusExpired:
			e.book.RemovePending(o.OrderID)
			delta.ConsumedPending = append(delta.ConsumedPending, *o)
			if e.metrics != nil {
				e.metrics.OrdersExpired.Inc()
			}
			e.log("order %s expired: %s", o.OrderID, res.Reason)

		case entry.StatusRejected:
			e.book.RemovePending(o.OrderID)
			delta.ConsumedPending = append(delta.ConsumedPending, *o)
			if e.metrics != nil {
				e.metrics.OrdersRejected.Inc()
			}
			e.log("order %s rejected: %s", o.OrderID, res.Reason)

		case entry.StatusPending:
			e.book.UpsertPending(o)
		}
	}
}

// activesForKey returns the key's open positions in a stable order so
// replay output and journal writes are reproducible.
func (e *Engine) activesForKey(symbol string, tf domain.Timeframe) []*domain.TradeState {
	trades := e.book.ActiveForKey(symbol, tf)
	sort.Slice(trades, func(i, j int) bool { return trades[i].TradeID < trades[j].TradeID })
	return trades
}

func (e *Engine) countRun(trigger, status string) {
	if e.metrics != nil {
		e.metrics.RunsTotal.WithLabelValues(trigger, status).Inc()
	}
}

func (e *Engine) updateBookGauges() {
	if e.metrics == nil {
		return
	}
	active, pending, _ := e.book.Counts()
	e.metrics.ActiveTrades.Set(float64(active))
	e.metrics.PendingOrders.Set(float64(pending))
}

func (e *Engine) log(format string, args ...interface{}) {
	if e.verbose {
		e.logger.Printf(format, args...)
	}
}
