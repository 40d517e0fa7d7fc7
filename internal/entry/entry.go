// Package entry turns admitted signals into filled positions.
//
// Market-on-close orders fill at the decision bar's close, adjusted
// adversely for slippage and half the spread. Limit-retrace orders wait
// for the bar range to reach the requested price and fill there exactly,
// at the reduced maker cost, until a bar-count time-to-live expires them.
// A validity check guards every fill attempt: price through the stop,
// excessive deviation from the intended entry, or a stale signal all
// reject the order instead of producing a doomed position.
package entry

import (
	"errors"
	"fmt"
	"math"

	"tradecore/internal/costs"
	"tradecore/internal/domain"
	"tradecore/internal/idhash"
)

// ErrInvalidSignal rejects a signal at admission, before any order exists.
var ErrInvalidSignal = errors.New("invalid signal")

// Status classifies the outcome of one fill attempt.
type Status string

const (
	StatusFilled   Status = "FILLED"   // a position was created
	StatusPending  Status = "PENDING"  // limit order still waiting for its retrace
	StatusExpired  Status = "EXPIRED"  // limit time-to-live elapsed unfilled
	StatusRejected Status = "REJECTED" // validity check failed, order is dead
)

// Result is the outcome of one fill attempt against a closed candle.
type Result struct {
	Status Status
	Trade  *domain.TradeState // set iff Status is FILLED
	Reason string             // detail for EXPIRED and REJECTED
}

// Options bound the validity checks. Zero values take the defaults.
type Options struct {
	MaxEntryDeviation float64 // tolerated |close-entry|/entry before a market fill rejects
	MaxAgeBars        int     // bars since the decision bar before any order is stale
	LimitTTLBars      int     // closed bars a limit order may wait before expiring
}

const (
	defaultMaxEntryDeviation = 0.01
	defaultMaxAgeBars        = 12
	defaultLimitTTLBars      = 6
)

// Resolver converts pending orders into trades against closed candles.
type Resolver struct {
	rates        costs.Rates
	maxDeviation float64
	maxAgeBars   int
	limitTTLBars int
}

// NewResolver creates a resolver pricing entry legs with the given rates.
func NewResolver(rates costs.Rates, opts Options) *Resolver {
	if opts.MaxEntryDeviation <= 0 {
		opts.MaxEntryDeviation = defaultMaxEntryDeviation
	}
	if opts.MaxAgeBars <= 0 {
		opts.MaxAgeBars = defaultMaxAgeBars
	}
	if opts.LimitTTLBars <= 0 {
		opts.LimitTTLBars = defaultLimitTTLBars
	}
	return &Resolver{
		rates:        rates,
		maxDeviation: opts.MaxEntryDeviation,
		maxAgeBars:   opts.MaxAgeBars,
		limitTTLBars: opts.LimitTTLBars,
	}
}

// Admit validates a signal and creates the pending order for it. Signals
// with degenerate risk, inconsistent stops, or unknown enum values never
// enter the pipeline.
func (r *Resolver) Admit(sig domain.Signal, nowMs int64) (domain.PendingOrder, error) {
	if err := validateSignal(sig); err != nil {
		return domain.PendingOrder{}, err
	}
	return domain.PendingOrder{
		OrderID:    idhash.ComputeOrderID(sig.ID, sig.Symbol, sig.Timeframe, sig.DecisionBar),
		Signal:     sig,
		CreatedBar: sig.DecisionBar,
		CreatedAt:  nowMs,
	}, nil
}

func validateSignal(sig domain.Signal) error {
	if !sig.Timeframe.IsValid() {
		return fmt.Errorf("%w: unknown timeframe %q", ErrInvalidSignal, sig.Timeframe)
	}
	if !sig.Direction.IsValid() {
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidSignal, sig.Direction)
	}
	if !sig.TradeMode.IsValid() {
		return fmt.Errorf("%w: unknown trade mode %q", ErrInvalidSignal, sig.TradeMode)
	}
	if !sig.EntryType.IsValid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidSignal, sig.EntryType)
	}
	if sig.Entry <= 0 || !isFinite(sig.Entry) {
		return fmt.Errorf("%w: entry price %f", ErrInvalidSignal, sig.Entry)
	}
	if !sig.HasValidRisk() {
		return fmt.Errorf("%w: entry %f and stop %f leave no risk distance", ErrInvalidSignal, sig.Entry, sig.StopLoss)
	}
	if sig.Direction == domain.DirectionLong && sig.StopLoss >= sig.Entry {
		return fmt.Errorf("%w: long stop %f at or above entry %f", ErrInvalidSignal, sig.StopLoss, sig.Entry)
	}
	if sig.Direction == domain.DirectionShort && sig.StopLoss <= sig.Entry {
		return fmt.Errorf("%w: short stop %f at or below entry %f", ErrInvalidSignal, sig.StopLoss, sig.Entry)
	}
	if sig.PlannedRR <= 0 || !isFinite(sig.PlannedRR) {
		return fmt.Errorf("%w: planned RR %f", ErrInvalidSignal, sig.PlannedRR)
	}
	return nil
}

// TryFill attempts to convert a pending order into a position using a just
// closed candle. The order's wait counter advances on every call; the
// caller drops the order on any status except PENDING.
func (r *Resolver) TryFill(o *domain.PendingOrder, c domain.Candle) Result {
	o.BarsWaited++

	sig := o.Signal
	if age := barsSince(sig.DecisionBar, c.TimestampMs, sig.Timeframe); age > r.maxAgeBars {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("signal stale: %d bars old", age)}
	}
	if stopPassed(sig, c.Close) {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("price %f already through stop %f", c.Close, sig.StopLoss)}
	}

	switch sig.EntryType {
	case domain.EntryTypeLimit:
		return r.tryLimitFill(o, c)
	default:
		return r.marketFill(o, c)
	}
}

// marketFill fills at the decision bar's close, never its open, pushed
// adversely by slippage and half the spread. The risk distance is pinned
// from the actual fill.
func (r *Resolver) marketFill(o *domain.PendingOrder, c domain.Candle) Result {
	sig := o.Signal

	deviation := math.Abs(c.Close-sig.Entry) / sig.Entry
	if deviation > r.maxDeviation {
		return Result{Status: StatusRejected, Reason: fmt.Sprintf("close %f deviates %.4f from entry %f", c.Close, deviation, sig.Entry)}
	}

	fillPrice := costs.AdjustedEntryPrice(sig.Direction, c.Close, r.rates)
	risk := math.Abs(fillPrice - sig.StopLoss)
	if risk <= 0 || !isFinite(risk) {
		return Result{Status: StatusRejected, Reason: "adjusted fill leaves no risk distance"}
	}

	entryCost := costs.EntryLegR(sig.Direction, c.Close, risk, r.rates)
	return Result{Status: StatusFilled, Trade: newTrade(sig, c, fillPrice, risk, entryCost)}
}

// tryLimitFill fills only when the bar range retraces to the requested
// price: the low for longs, the high for shorts. The fill is exact, with
// no slippage and the reduced maker cost. Unfilled orders expire once the
// time-to-live elapses.
func (r *Resolver) tryLimitFill(o *domain.PendingOrder, c domain.Candle) Result {
	sig := o.Signal

	touched := c.Low <= sig.Entry
	if sig.Direction == domain.DirectionShort {
		touched = c.High >= sig.Entry
	}
	if touched {
		risk := sig.RiskDistance()
		entryCost := costs.LimitEntryLegR(sig.Entry, risk, r.rates)
		return Result{Status: StatusFilled, Trade: newTrade(sig, c, sig.Entry, risk, entryCost)}
	}

	if o.BarsWaited >= r.limitTTLBars {
		return Result{Status: StatusExpired, Reason: fmt.Sprintf("unfilled after %d bars", o.BarsWaited)}
	}
	return Result{Status: StatusPending}
}

func newTrade(sig domain.Signal, c domain.Candle, fillPrice, risk, entryCostR float64) *domain.TradeState {
	return &domain.TradeState{
		TradeID:      idhash.ComputeTradeID(sig.ID, sig.Symbol, sig.Timeframe, c.TimestampMs),
		Signal:       sig,
		Phase:        domain.PhaseActive,
		EntryPrice:   fillPrice,
		EntryTime:    c.TimestampMs + sig.Timeframe.Duration().Milliseconds(),
		EntryBar:     c.TimestampMs,
		RiskDistance: risk,
		InitialSize:  1.0,
		CurrentSize:  1.0,
		StopPrice:    sig.StopLoss,
		EntryCostR:   entryCostR,
	}
}

// stopPassed reports whether the reference price has already crossed the
// protective stop, which would fill straight into a stop-out.
func stopPassed(sig domain.Signal, price float64) bool {
	if sig.Direction == domain.DirectionShort {
		return price >= sig.StopLoss
	}
	return price <= sig.StopLoss
}

func barsSince(decisionBarMs, barMs int64, tf domain.Timeframe) int {
	tfMs := tf.Duration().Milliseconds()
	if tfMs <= 0 || barMs <= decisionBarMs {
		return 0
	}
	return int((barMs - decisionBarMs) / tfMs)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
