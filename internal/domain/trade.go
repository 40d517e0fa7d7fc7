package domain

// Phase represents the lifecycle stage of an open trade.
// Transitions are strictly forward: ACTIVE -> RUNNER_ACTIVE -> COMPLETED,
// with single-target profiles skipping RUNNER_ACTIVE.
type Phase string

const (
	PhaseActive       Phase = "ACTIVE"
	PhaseRunnerActive Phase = "RUNNER_ACTIVE"
	PhaseCompleted    Phase = "COMPLETED"
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	return string(p)
}

// ExitReason classifies how a completed trade reached its exit.
type ExitReason string

const (
	ExitReasonInitialSL ExitReason = "INITIAL_SL" // stop hit before breakeven armed
	ExitReasonBEHit     ExitReason = "BE_HIT"     // stop hit after breakeven armed
	ExitReasonTP1Full   ExitReason = "TP1_FULL"   // single-target full close
	ExitReasonRunnerSL  ExitReason = "RUNNER_SL"  // runner stopped out after partial
	ExitReasonRunnerTP  ExitReason = "RUNNER_TP"  // runner reached the final target
	ExitReasonSoftStop  ExitReason = "SOFT_STOP"  // bar-count timeout forced the close
)

// Outcome class constants
const (
	OutcomeClassWin  = "WIN"
	OutcomeClassLoss = "LOSS"
)

// TradeState represents a live position tracked by the exit state machine.
type TradeState struct {
	TradeID string // deterministic hash, see idhash
	Signal  Signal // originating signal, immutable after fill

	Phase Phase

	// Entry
	EntryPrice   float64 // actual fill price
	EntryTime    int64   // fill timestamp (ms)
	EntryBar     int64   // decision bar timestamp at fill (ms)
	RiskDistance float64 // |entry - initial stop|, fixed at fill
	InitialSize  float64 // fraction of full size, 1.0 at fill
	CurrentSize  float64 // remaining fraction after partial closes

	// First target
	TP1Hit     bool
	TP1Price   float64 // fill price of the partial close
	TP1Bar     int64   // bar timestamp of the partial close (ms)
	LockedR    float64 // R banked by the partial close
	RunnerSize float64 // fraction left running after TP1

	// Stops
	StopPrice       float64  // current protective stop
	BreakevenActive bool     // stop has been ratcheted to entry or beyond
	TrailingStop    *float64 // linear trailing stop, nil until armed
	HighWaterR      float64  // best favorable excursion reached, in R

	// Accounting
	EntryCostR float64 // entry-leg friction captured at fill
	BarsHeld   int     // closed bars since entry
}

// RMultiple converts a price into a signed risk multiple relative to entry.
// Returns 0 when the risk distance is not positive.
func (t *TradeState) RMultiple(price float64) float64 {
	if t.RiskDistance <= 0 {
		return 0
	}
	return t.Signal.Direction.Sign() * (price - t.EntryPrice) / t.RiskDistance
}

// StopR returns the risk multiple currently locked by the protective stop.
func (t *TradeState) StopR() float64 {
	return t.RMultiple(t.StopPrice)
}

// TradeRecord represents the persisted projection of a completed trade.
type TradeRecord struct {
	TradeState

	// Exit
	ExitPrice  float64
	ExitTime   int64 // exit timestamp (ms)
	ExitBar    int64 // bar timestamp the exit was decided on (ms)
	ExitReason ExitReason

	// Outcome
	GrossR       float64 // realized R before friction
	CostR        float64 // entry plus exit leg friction, in R
	NetR         float64 // GrossR - CostR
	OutcomeClass string  // "WIN" | "LOSS"
}

// PendingOrder represents a signal admitted to the pipeline but not yet
// filled. Limit orders wait for a retrace; market orders fill on the next
// closed bar.
type PendingOrder struct {
	OrderID    string
	Signal     Signal
	CreatedBar int64 // decision bar timestamp at admission (ms)
	CreatedAt  int64 // wall-clock admission time (ms)
	BarsWaited int   // closed bars seen since admission
}
