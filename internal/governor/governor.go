// Package governor enforces trade-frequency admission control: rolling
// 24h counts per (symbol, timeframe), daily budgets per horizon category
// with a fixed UTC-midnight reset, and a short per-key cooldown after a
// close.
//
// All methods take the event time explicitly (ms) so replays are
// deterministic; nothing reads the wall clock.
package governor

import (
	"fmt"
	"sync"
	"time"

	"tradecore/internal/domain"
)

// Violation codes
const (
	ViolationCategoryBudget = "CATEGORY_BUDGET_EXHAUSTED"
	ViolationGlobalBudget   = "GLOBAL_BUDGET_EXHAUSTED"
	ViolationCooldown       = "COOLDOWN_ACTIVE"
)

// Violation is one reason an admission check failed.
type Violation struct {
	Code string
	Msg  string
}

// Decision is the governor's answer for one prospective entry. ScoreBias
// is advisory either way: positive means the caller should demand a higher
// quality score, negative means it may relax slightly.
type Decision struct {
	Allowed    bool
	Violations []Violation
	ScoreBias  float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

type key struct {
	symbol    string
	timeframe domain.Timeframe
}

type keyCounter struct {
	count         int
	windowStartMs int64
}

const rollingWindowMs = int64(24 * time.Hour / time.Millisecond)

// Governor tracks admission counters. Safe for concurrent use.
type Governor struct {
	mu     sync.Mutex
	limits Limits

	keys       map[key]*keyCounter
	categories map[domain.Category]int
	global     int
	dayStartMs int64

	lastCloseMs map[key]int64
}

// New creates a governor with the given limits.
func New(limits Limits) *Governor {
	return &Governor{
		limits:      limits,
		keys:        make(map[key]*keyCounter),
		categories:  make(map[domain.Category]int),
		lastCloseMs: make(map[key]int64),
	}
}

// RecordTrade counts one admitted entry. Called exactly once per trade, at
// entry fill time, never at exit; counting both ends would double-charge a
// partial-to-full lifecycle.
func (g *Governor) RecordTrade(symbol string, tf domain.Timeframe, atMs int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(atMs)

	k := key{symbol: symbol, timeframe: tf}
	kc := g.keys[k]
	if kc == nil {
		kc = &keyCounter{windowStartMs: atMs}
		g.keys[k] = kc
	}
	if atMs-kc.windowStartMs >= rollingWindowMs {
		kc.count = 0
		kc.windowStartMs = atMs
	}
	kc.count++

	g.categories[tf.Category()]++
	g.global++
}

// RecordClose starts the per-key cooldown from the bar a trade completed on.
func (g *Governor) RecordClose(symbol string, tf domain.Timeframe, closeBarMs int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := key{symbol: symbol, timeframe: tf}
	if closeBarMs > g.lastCloseMs[k] {
		g.lastCloseMs[k] = closeBarMs
	}
}

// Check evaluates admission for a prospective entry on (symbol, timeframe)
// at the given time.
func (g *Governor) Check(symbol string, tf domain.Timeframe, atMs int64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(atMs)

	d := Decision{Allowed: true}
	k := key{symbol: symbol, timeframe: tf}
	cat := tf.Category()

	if budget := g.limits.CategoryDaily[cat]; budget > 0 && g.categories[cat] >= budget {
		d.add(ViolationCategoryBudget,
			fmt.Sprintf("category %s used %d of %d today", cat, g.categories[cat], budget))
	}
	if g.limits.GlobalDaily > 0 && g.global >= g.limits.GlobalDaily {
		d.add(ViolationGlobalBudget,
			fmt.Sprintf("global count %d reached daily cap %d", g.global, g.limits.GlobalDaily))
	}
	if until, active := g.cooldownUntil(k); active && atMs < until {
		d.add(ViolationCooldown,
			fmt.Sprintf("%s %s cooling down until %d", symbol, tf, until))
	}

	d.ScoreBias = scoreBias(g.keyCount(k, atMs), g.limits.PerKeyTarget)
	return d
}

// ScoreAdjustment returns only the score bias for (symbol, timeframe):
// positive when the key trades over its target pace.
func (g *Governor) ScoreAdjustment(symbol string, tf domain.Timeframe, atMs int64) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(atMs)
	return scoreBias(g.keyCount(key{symbol: symbol, timeframe: tf}, atMs), g.limits.PerKeyTarget)
}

// IsCategoryBudgetExhausted reports whether the category's daily budget is
// spent. Stays true until the next UTC-midnight reset.
func (g *Governor) IsCategoryBudgetExhausted(cat domain.Category, atMs int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover(atMs)
	budget := g.limits.CategoryDaily[cat]
	return budget > 0 && g.categories[cat] >= budget
}

// Reset clears all counters and cooldowns.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.keys = make(map[key]*keyCounter)
	g.categories = make(map[domain.Category]int)
	g.global = 0
	g.dayStartMs = 0
	g.lastCloseMs = make(map[key]int64)
}

// rollover resets daily counters when the event time has crossed into a
// later UTC day. Events from an earlier day never reset forward state.
// Callers hold mu.
func (g *Governor) rollover(atMs int64) {
	ds := dayStartUTC(atMs)
	if ds > g.dayStartMs {
		g.dayStartMs = ds
		g.categories = make(map[domain.Category]int)
		g.global = 0
	}
}

// keyCount returns the rolling count for a key, treating an expired window
// as empty without mutating it. Callers hold mu.
func (g *Governor) keyCount(k key, atMs int64) int {
	kc := g.keys[k]
	if kc == nil || atMs-kc.windowStartMs >= rollingWindowMs {
		return 0
	}
	return kc.count
}

func (g *Governor) cooldownUntil(k key) (int64, bool) {
	if g.limits.CooldownBars <= 0 {
		return 0, false
	}
	last, ok := g.lastCloseMs[k]
	if !ok {
		return 0, false
	}
	barMs := k.timeframe.Duration().Milliseconds()
	return last + int64(g.limits.CooldownBars)*barMs, true
}

func dayStartUTC(atMs int64) int64 {
	t := time.UnixMilli(atMs).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}
