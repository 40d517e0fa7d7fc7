package exit

import (
	"math"

	"tradecore/internal/costs"
	"tradecore/internal/domain"
	"tradecore/internal/profile"
)

// step is the single transition function both drivers feed. At most one
// phase transition is applied per step; when a bar touches both the stop
// and a target the stop wins.
func (m *Machine) step(t *domain.TradeState, p profile.ExitProfile, in stepInput) StepResult {
	switch t.Phase {
	case domain.PhaseActive:
		return m.stepActive(t, p, in)
	case domain.PhaseRunnerActive:
		return m.stepRunner(t, p, in)
	default:
		return StepResult{}
	}
}

func (m *Machine) stepActive(t *domain.TradeState, p profile.ExitProfile, in stepInput) StepResult {
	changed := m.updateHighWater(t, in)

	// Stop first: when one bar spans both levels the worse outcome is
	// assumed.
	if touchedStop(t, in) {
		reason := domain.ExitReasonInitialSL
		if t.BreakevenActive {
			reason = domain.ExitReasonBEHit
		}
		gross := t.CurrentSize * t.StopR()
		return m.complete(t, reason, t.StopPrice, gross, in)
	}

	if touchedLevel(t, in, p.TP1R) {
		if p.SingleTarget {
			gross := t.CurrentSize * p.TP1R
			return m.complete(t, domain.ExitReasonTP1Full, levelPrice(t, p.TP1R), gross, in)
		}
		m.takePartial(t, p, in)
		return StepResult{Changed: true}
	}

	if in.onClose && p.SoftMaxBars > 0 && t.BarsHeld >= p.SoftMaxBars {
		gross := t.CurrentSize * t.RMultiple(in.current)
		return m.complete(t, domain.ExitReasonSoftStop, in.current, gross, in)
	}

	if m.tightenFromExcursion(t, p) {
		changed = true
	}
	return StepResult{Changed: changed}
}

func (m *Machine) stepRunner(t *domain.TradeState, p profile.ExitProfile, in stepInput) StepResult {
	changed := m.updateHighWater(t, in)

	if touchedStop(t, in) {
		gross := t.LockedR + t.RunnerSize*t.StopR()
		return m.complete(t, domain.ExitReasonRunnerSL, t.StopPrice, gross, in)
	}

	finalR := p.CappedRR(t.Signal.PlannedRR)
	if finalR > 0 && touchedLevel(t, in, finalR) {
		gross := t.LockedR + t.RunnerSize*finalR
		return m.complete(t, domain.ExitReasonRunnerTP, levelPrice(t, finalR), gross, in)
	}

	// The locked portion already banked profit, so the runner gets twice
	// the hold budget before timing out.
	if in.onClose && p.SoftMaxBars > 0 && t.BarsHeld >= 2*p.SoftMaxBars {
		gross := t.LockedR + t.RunnerSize*t.RMultiple(in.current)
		return m.complete(t, domain.ExitReasonSoftStop, in.current, gross, in)
	}

	if m.tightenFromExcursion(t, p) {
		changed = true
	}
	return StepResult{Changed: changed}
}

// takePartial closes the first-target portion and hands the rest to the
// runner phase: locked R is banked, the stop jumps to the runner floor,
// and breakeven arms if it had not already.
func (m *Machine) takePartial(t *domain.TradeState, p profile.ExitProfile, in stepInput) {
	t.TP1Hit = true
	t.TP1Price = levelPrice(t, p.TP1R)
	t.TP1Bar = in.barTs
	t.LockedR = p.TP1Portion * p.TP1R
	t.CurrentSize = t.InitialSize * p.RunnerPortion
	t.RunnerSize = t.CurrentSize
	t.BreakevenActive = true
	tightenStop(t, levelPrice(t, p.RunnerStopR))
	t.Phase = domain.PhaseRunnerActive
}

// tightenFromExcursion walks the stop after favorable excursion: arm
// breakeven at its trigger, then the highest ratchet tier reached, then
// the linear trail beyond the top tier. Only runs when nothing touched.
func (m *Machine) tightenFromExcursion(t *domain.TradeState, p profile.ExitProfile) bool {
	moved := false

	if !t.BreakevenActive && p.BreakevenTriggerR > 0 && t.HighWaterR >= p.BreakevenTriggerR {
		t.BreakevenActive = true
		tightenStop(t, levelPrice(t, p.BreakevenLockR))
		moved = true
	}

	if lockR, ok := ratchetLock(p.Ratchet, t.HighWaterR); ok {
		if tightenStop(t, levelPrice(t, lockR)) {
			moved = true
		}
	}

	if t.Phase == domain.PhaseRunnerActive && p.TrailStepR > 0 && p.TrailMoveR > 0 {
		if lockR, ok := trailLock(p, t.HighWaterR); ok {
			stop := levelPrice(t, lockR)
			if tightenStop(t, stop) {
				t.TrailingStop = &stop
				moved = true
			}
		}
	}
	return moved
}

// ratchetLock returns the lock of the highest tier whose trigger the
// excursion has reached. Tiers are validated strictly increasing, so a
// single forward scan finds it.
func ratchetLock(tiers []profile.RatchetTier, hwmR float64) (float64, bool) {
	lock, ok := 0.0, false
	for _, tier := range tiers {
		if hwmR >= tier.TriggerR {
			lock, ok = tier.LockR, true
		}
	}
	return lock, ok
}

// trailLock extends the ladder linearly past its top tier: every full
// TrailStepR of excursion beyond the top trigger adds TrailMoveR of lock.
// With no ladder configured the breakeven trigger anchors the trail.
func trailLock(p profile.ExitProfile, hwmR float64) (float64, bool) {
	baseTrigger := p.BreakevenTriggerR
	baseLock := p.BreakevenLockR
	if n := len(p.Ratchet); n > 0 {
		baseTrigger = p.Ratchet[n-1].TriggerR
		baseLock = p.Ratchet[n-1].LockR
	}
	if hwmR <= baseTrigger {
		return 0, false
	}
	steps := math.Floor((hwmR - baseTrigger) / p.TrailStepR)
	if steps < 1 {
		return 0, false
	}
	return baseLock + steps*p.TrailMoveR, true
}

// tightenStop moves the stop only toward more locked profit for the
// trade's direction. Looser or non-finite values are refused, which is
// what keeps the stop monotone when the close and tick drivers
// interleave.
func tightenStop(t *domain.TradeState, stop float64) bool {
	if math.IsNaN(stop) || math.IsInf(stop, 0) {
		return false
	}
	if t.Signal.Direction == domain.DirectionShort {
		if stop >= t.StopPrice {
			return false
		}
	} else if stop <= t.StopPrice {
		return false
	}
	t.StopPrice = stop
	return true
}

func (m *Machine) updateHighWater(t *domain.TradeState, in stepInput) bool {
	fav := in.high
	if t.Signal.Direction == domain.DirectionShort {
		fav = in.low
	}
	if r := t.RMultiple(fav); r > t.HighWaterR {
		t.HighWaterR = r
		return true
	}
	return false
}

// complete closes out the trade: the exit leg is priced at the exit,
// added to the entry leg recorded at fill, and the net R is gross minus
// total cost.
func (m *Machine) complete(t *domain.TradeState, reason domain.ExitReason, exitPrice, grossR float64, in stepInput) StepResult {
	t.Phase = domain.PhaseCompleted
	t.CurrentSize = 0

	costR := t.EntryCostR + costs.ExitLegR(t.Signal.Direction, exitPrice, t.RiskDistance, m.rates)
	netR := grossR - costR

	outcome := domain.OutcomeClassLoss
	if netR > 0 {
		outcome = domain.OutcomeClassWin
	}

	rec := &domain.TradeRecord{
		TradeState:   *t,
		ExitPrice:    exitPrice,
		ExitTime:     in.exitTs,
		ExitBar:      in.barTs,
		ExitReason:   reason,
		GrossR:       grossR,
		CostR:        costR,
		NetR:         netR,
		OutcomeClass: outcome,
	}
	return StepResult{Changed: true, Completed: rec}
}

func touchedStop(t *domain.TradeState, in stepInput) bool {
	if t.Signal.Direction == domain.DirectionShort {
		return in.high >= t.StopPrice
	}
	return in.low <= t.StopPrice
}

// touchedLevel reports whether the bar reached the target r multiples in
// the favorable direction.
func touchedLevel(t *domain.TradeState, in stepInput, r float64) bool {
	price := levelPrice(t, r)
	if t.Signal.Direction == domain.DirectionShort {
		return in.low <= price
	}
	return in.high >= price
}

// levelPrice converts an R multiple to a price for the trade's direction,
// anchored at the actual fill and the risk distance pinned at fill time.
func levelPrice(t *domain.TradeState, r float64) float64 {
	return t.EntryPrice + t.Signal.Direction.Sign()*r*t.RiskDistance
}
