// Package profile holds the exit-parameter table: per timeframe and trade
// mode, how a position takes profit, ratchets its stop, and times out.
//
// The table is configuration handed down from risk policy. The engine
// treats it as fully specified input; the only inference applied is the
// single-target override in Resolve.
package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"tradecore/internal/domain"
)

// A profile whose first target sits within this margin of the planned RR
// collapses into single-target mode: the runner would have no room to run.
const singleTargetMargin = 0.1

// RatchetTier is one rung of the stop ladder: once favorable excursion
// reaches TriggerR, the stop moves to lock LockR.
type RatchetTier struct {
	TriggerR float64 `json:"trigger_r" yaml:"trigger_r"`
	LockR    float64 `json:"lock_r" yaml:"lock_r"`
}

// ExitProfile parameterizes the exit state machine for one timeframe and
// trade mode.
type ExitProfile struct {
	TP1R       float64 `json:"tp1_r" yaml:"tp1_r"`             // first-target risk multiple
	TP1Portion float64 `json:"tp1_portion" yaml:"tp1_portion"` // fraction closed at the first target

	RunnerPortion float64 `json:"runner_portion" yaml:"runner_portion"` // fraction left running after TP1
	RunnerStopR   float64 `json:"runner_stop_r" yaml:"runner_stop_r"`   // runner stop placement, in R

	BreakevenTriggerR float64 `json:"breakeven_trigger_r" yaml:"breakeven_trigger_r"` // excursion that arms breakeven
	BreakevenLockR    float64 `json:"breakeven_lock_r" yaml:"breakeven_lock_r"`       // stop level once armed, in R

	Ratchet []RatchetTier `json:"ratchet,omitempty" yaml:"ratchet,omitempty"` // ordered by trigger ascending

	TrailStepR float64 `json:"trail_step_r,omitempty" yaml:"trail_step_r,omitempty"` // excursion step beyond the top tier; 0 disables
	TrailMoveR float64 `json:"trail_move_r,omitempty" yaml:"trail_move_r,omitempty"` // lock advance per step

	SoftMaxBars  int     `json:"soft_max_bars" yaml:"soft_max_bars"`                   // bars held before a forced close; runner gets 2x
	SingleTarget bool    `json:"single_target,omitempty" yaml:"single_target,omitempty"` // full close at the first target
	MaxRRCap     float64 `json:"max_rr_cap,omitempty" yaml:"max_rr_cap,omitempty"`     // cap on the RR used for the final target; 0 = uncapped
}

// Table maps timeframe and trade mode onto an exit profile.
type Table map[domain.Timeframe]map[domain.TradeMode]ExitProfile

// Resolve applies the single-target override against a signal's planned RR:
// when the first target sits at or beyond plannedRR minus the margin, the
// whole position closes there and the effective first-target multiple never
// exceeds the planned RR.
func (p ExitProfile) Resolve(plannedRR float64) ExitProfile {
	out := p
	if p.SingleTarget || p.TP1R >= plannedRR-singleTargetMargin {
		out.SingleTarget = true
		out.TP1Portion = 1.0
		out.RunnerPortion = 0
		if plannedRR > 0 && plannedRR < out.TP1R {
			out.TP1R = plannedRR
		}
	}
	return out
}

// CappedRR returns the risk:reward used for the final target, bounded by
// MaxRRCap when one is configured.
func (p ExitProfile) CappedRR(plannedRR float64) float64 {
	if p.MaxRRCap > 0 && plannedRR > p.MaxRRCap {
		return p.MaxRRCap
	}
	return plannedRR
}

// Get returns the profile for (timeframe, mode). Missing entries are the
// caller's problem: admission rejects signals with no profile rather than
// inventing defaults.
func (t Table) Get(tf domain.Timeframe, mode domain.TradeMode) (ExitProfile, bool) {
	modes, ok := t[tf]
	if !ok {
		return ExitProfile{}, false
	}
	p, ok := modes[mode]
	return p, ok
}

// Validate checks every profile in the table.
func (t Table) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("profile table is empty")
	}
	for tf, modes := range t {
		if !tf.IsValid() {
			return fmt.Errorf("profile table: unknown timeframe %q", tf)
		}
		for mode, p := range modes {
			if !mode.IsValid() {
				return fmt.Errorf("profile %s: unknown trade mode %q", tf, mode)
			}
			if err := p.validate(); err != nil {
				return fmt.Errorf("profile %s/%s: %w", tf, mode, err)
			}
		}
	}
	return nil
}

func (p ExitProfile) validate() error {
	if p.TP1R <= 0 {
		return fmt.Errorf("tp1_r must be positive")
	}
	if p.TP1Portion < 0 || p.TP1Portion > 1 {
		return fmt.Errorf("tp1_portion must be within [0, 1]")
	}
	if p.RunnerPortion < 0 || p.RunnerPortion > 1 {
		return fmt.Errorf("runner_portion must be within [0, 1]")
	}
	if p.TP1Portion+p.RunnerPortion > 1+1e-9 {
		return fmt.Errorf("tp1_portion + runner_portion must not exceed 1")
	}
	if !p.SingleTarget && p.RunnerPortion == 0 {
		return fmt.Errorf("runner_portion required unless single_target")
	}
	if p.BreakevenTriggerR <= 0 {
		return fmt.Errorf("breakeven_trigger_r must be positive")
	}
	if p.SoftMaxBars < 0 {
		return fmt.Errorf("soft_max_bars must not be negative")
	}
	if p.MaxRRCap < 0 {
		return fmt.Errorf("max_rr_cap must not be negative")
	}
	if (p.TrailStepR > 0) != (p.TrailMoveR > 0) {
		return fmt.Errorf("trail_step_r and trail_move_r must be set together")
	}
	prevTrigger := 0.0
	prevLock := -1.0
	for i, tier := range p.Ratchet {
		if tier.TriggerR <= prevTrigger {
			return fmt.Errorf("ratchet[%d]: trigger_r must increase along the ladder", i)
		}
		if tier.LockR < prevLock {
			return fmt.Errorf("ratchet[%d]: lock_r must not decrease along the ladder", i)
		}
		if tier.LockR >= tier.TriggerR {
			return fmt.Errorf("ratchet[%d]: lock_r must sit below its trigger", i)
		}
		prevTrigger, prevLock = tier.TriggerR, tier.LockR
	}
	return nil
}

// LoadTable reads a YAML profile table from disk and validates it.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile table: %w", err)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse profile table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile table: %w", err)
	}
	return t, nil
}
