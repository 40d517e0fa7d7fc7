// Package exit advances open positions through the staged exit state
// machine: partial take-profit, breakeven ratchet, trailing stop, and
// bar-count soft stops.
//
// Two independent drivers feed one transition function. StepOnClose runs
// once per closed decision candle and owns all bar-count logic;
// StepOnTick runs off a faster timer with the live price and carries a
// short wall-clock deduplication window per trade. Given the same inputs
// both reach the same outcome, and every stop move goes through a
// tighten-only operation, so whichever driver fires first cannot be
// undone by the other.
package exit

import (
	"sync"

	"tradecore/internal/costs"
	"tradecore/internal/domain"
	"tradecore/internal/profile"
)

// Ticks for the same trade inside this window are dropped: the same
// crossing is often detected on consecutive rapid ticks before the caller
// observes the resulting phase change.
const tickDedupWindowMs = 500

// StepResult reports what one step did to a trade.
type StepResult struct {
	Changed   bool                // any state advanced (bars, high-water, stop, phase)
	Completed *domain.TradeRecord // non-nil exactly when the trade completed
}

// Machine is the exit state machine. It mutates the caller's TradeState in
// place; the machine itself only owns the tick-deduplication table.
type Machine struct {
	rates costs.Rates

	mu       sync.Mutex
	lastTick map[string]int64 // trade id -> last effective tick step (wall ms)
}

// NewMachine creates a machine pricing exit legs with the given rates.
func NewMachine(rates costs.Rates) *Machine {
	return &Machine{
		rates:    rates,
		lastTick: make(map[string]int64),
	}
}

// StepOnClose advances a trade using a just-closed decision candle. The
// candle's high/low detect touches, its close prices soft stops, and the
// bar counts toward hold-duration timeouts.
func (m *Machine) StepOnClose(t *domain.TradeState, p profile.ExitProfile, c domain.Candle) StepResult {
	if t.Phase == domain.PhaseCompleted {
		return StepResult{}
	}

	t.BarsHeld++

	res := m.step(t, p, stepInput{
		high:    c.High,
		low:     c.Low,
		current: c.Close,
		barTs:   c.TimestampMs,
		exitTs:  c.TimestampMs + c.Timeframe.Duration().Milliseconds(),
		onClose: true,
	})
	res.Changed = true // bar count advanced even when nothing else moved
	if res.Completed != nil {
		m.forgetTick(t.TradeID)
	}
	return res
}

// StepOnTick advances a trade using a live price. barTs attributes any
// resulting exit to the most recent closed bar; nowMs drives the
// deduplication window. Bar-count timeouts never fire on this path.
func (m *Machine) StepOnTick(t *domain.TradeState, p profile.ExitProfile, price float64, barTs, nowMs int64) StepResult {
	if t.Phase == domain.PhaseCompleted {
		return StepResult{}
	}

	m.mu.Lock()
	if last, ok := m.lastTick[t.TradeID]; ok && nowMs-last < tickDedupWindowMs {
		m.mu.Unlock()
		return StepResult{}
	}
	m.mu.Unlock()

	res := m.step(t, p, stepInput{
		high:    price,
		low:     price,
		current: price,
		barTs:   barTs,
		exitTs:  nowMs,
		onClose: false,
	})

	if res.Changed {
		m.mu.Lock()
		m.lastTick[t.TradeID] = nowMs
		m.mu.Unlock()
	}
	if res.Completed != nil {
		m.forgetTick(t.TradeID)
	}
	return res
}

// Reset drops all tick-deduplication state.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTick = make(map[string]int64)
}

func (m *Machine) forgetTick(tradeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lastTick, tradeID)
}

// stepInput is one evaluation's view of the market. A close step carries
// the full bar range; a tick step collapses high/low/current to the live
// price.
type stepInput struct {
	high    float64
	low     float64
	current float64
	barTs   int64 // bar the evaluation is attributed to (ms)
	exitTs  int64 // timestamp recorded on an exit (ms)
	onClose bool  // bar-count logic (soft stops) only runs on close steps
}
