package replay

import (
	"tradecore/internal/domain"
	"tradecore/internal/orchestrator"
)

// Stats accumulates per-run counters from engine deltas.
type Stats struct {
	BarsProcessed   int `json:"bars_processed"`
	SignalsAdmitted int `json:"signals_admitted"`
	SignalsDenied   int `json:"signals_denied"`

	OrdersFilled  int `json:"orders_filled"`
	OrdersDropped int `json:"orders_dropped"` // expired or rejected before filling

	TradesCompleted     int            `json:"trades_completed"`
	Wins                int            `json:"wins"`
	Losses              int            `json:"losses"`
	CompletionsByReason map[string]int `json:"completions_by_reason"`

	GrossRTotal float64 `json:"gross_r_total"`
	CostRTotal  float64 `json:"cost_r_total"`
	NetRTotal   float64 `json:"net_r_total"`
}

// NewStats creates an empty stats accumulator.
func NewStats() *Stats {
	return &Stats{CompletionsByReason: make(map[string]int)}
}

// WinRate returns completed wins over completed trades, 0 when none.
func (s *Stats) WinRate() float64 {
	if s.TradesCompleted == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TradesCompleted)
}

// applyDelta folds one close-run delta into the counters.
//
// Fills are recognized by matching signal ids between consumed orders and
// updated trades: a consumed order whose signal reappears on an active
// trade in the same delta was filled, anything else consumed was dropped.
func (s *Stats) applyDelta(d orchestrator.Delta) {
	consumed := make(map[string]bool, len(d.ConsumedPending))
	for _, o := range d.ConsumedPending {
		consumed[o.Signal.ID] = true
	}
	filled := 0
	for _, t := range d.UpdatedActive {
		if consumed[t.Signal.ID] {
			filled++
		}
	}
	s.OrdersFilled += filled
	s.OrdersDropped += len(d.ConsumedPending) - filled

	for _, rec := range d.Completed {
		s.TradesCompleted++
		s.CompletionsByReason[string(rec.ExitReason)]++
		s.GrossRTotal += rec.GrossR
		s.CostRTotal += rec.CostR
		s.NetRTotal += rec.NetR
		switch rec.OutcomeClass {
		case domain.OutcomeClassWin:
			s.Wins++
		case domain.OutcomeClassLoss:
			s.Losses++
		}
	}
}
