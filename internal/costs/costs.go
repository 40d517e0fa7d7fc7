// Package costs prices trading friction in risk multiples.
//
// All functions are pure: given a direction, raw prices, the risk distance
// and a set of rates, they return the cost of a fill leg expressed in R.
// Non-finite intermediates and non-positive risk distances clamp to zero so
// degenerate inputs never propagate NaN into trade accounting.
package costs

import (
	"math"

	"tradecore/internal/domain"
)

// Rates holds friction parameters in basis points.
type Rates struct {
	FeeBps      float64 // proportional fee per fill
	SlippageBps float64 // expected adverse move between trigger and fill
	SpreadBps   float64 // full quoted spread; each fill crosses half
}

// DefaultRates approximates a liquid perpetual-futures book with taker fees.
var DefaultRates = Rates{
	FeeBps:      4,
	SlippageBps: 2,
	SpreadBps:   1,
}

// Limit fills rest in the book: no slippage, and maker schedules price
// roughly half the taker fee.
const limitCostFactor = 0.5

// adverseFrac returns the fractional adverse price adjustment per fill:
// slippage plus half the spread.
func (r Rates) adverseFrac() float64 {
	return (r.SlippageBps + r.SpreadBps/2) / 10000
}

// feeFrac returns the proportional fee as a fraction of the fill price.
func (r Rates) feeFrac() float64 {
	return r.FeeBps / 10000
}

// AdjustedEntryPrice returns the expected entry fill after adverse
// adjustment: a long pays up, a short receives less.
func AdjustedEntryPrice(dir domain.Direction, price float64, r Rates) float64 {
	return clampFinite(price * (1 + dir.Sign()*r.adverseFrac()))
}

// AdjustedExitPrice returns the expected exit fill after adverse
// adjustment: a long receives less, a short pays up to cover.
func AdjustedExitPrice(dir domain.Direction, price float64, r Rates) float64 {
	return clampFinite(price * (1 - dir.Sign()*r.adverseFrac()))
}

// EntryLegR returns the entry-side friction in R for a market fill:
// adverse price adjustment plus fee on the adjusted fill, divided by the
// risk distance.
func EntryLegR(dir domain.Direction, entryPrice, risk float64, r Rates) float64 {
	if risk <= 0 || !isFinite(risk) {
		return 0
	}
	adj := AdjustedEntryPrice(dir, entryPrice, r)
	leg := math.Abs(adj-entryPrice) + adj*r.feeFrac()
	return clampLeg(leg / risk)
}

// LimitEntryLegR returns the entry-side friction in R for a limit fill:
// no adverse adjustment, reduced fee on the exact requested price.
func LimitEntryLegR(entryPrice, risk float64, r Rates) float64 {
	if risk <= 0 || !isFinite(risk) {
		return 0
	}
	leg := entryPrice * r.feeFrac() * limitCostFactor
	return clampLeg(leg / risk)
}

// ExitLegR returns the exit-side friction in R: adverse price adjustment
// plus fee on the adjusted fill, divided by the risk distance.
func ExitLegR(dir domain.Direction, exitPrice, risk float64, r Rates) float64 {
	if risk <= 0 || !isFinite(risk) {
		return 0
	}
	adj := AdjustedExitPrice(dir, exitPrice, r)
	leg := math.Abs(adj-exitPrice) + adj*r.feeFrac()
	return clampLeg(leg / risk)
}

// CostR returns the full two-leg friction for a round trip in R.
func CostR(dir domain.Direction, entryPrice, exitPrice, risk float64, r Rates) float64 {
	return EntryLegR(dir, entryPrice, risk, r) + ExitLegR(dir, exitPrice, risk, r)
}

// EstimateCostR is the cheap pre-trade approximation: twice the entry leg.
// Used for display before an exit price exists.
func EstimateCostR(dir domain.Direction, entryPrice, risk float64, r Rates) float64 {
	return 2 * EntryLegR(dir, entryPrice, risk, r)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func clampFinite(x float64) float64 {
	if !isFinite(x) {
		return 0
	}
	return x
}

// clampLeg keeps a leg cost finite and non-negative.
func clampLeg(x float64) float64 {
	if !isFinite(x) || x < 0 {
		return 0
	}
	return x
}
