// Package candles holds per-(symbol, timeframe) candle series, separating
// closed bars from the single forming bar at the tail.
//
// Invariants: a forming candle is always the most recent entry in its series
// and is replaced in place, never appended twice; a closed candle is
// immutable once stored. All reads return copies.
package candles

import (
	"sort"
	"sync"

	"tradecore/internal/domain"
)

// DefaultRetention caps bars kept per series when no per-timeframe cap is
// configured.
const DefaultRetention = 500

// Key identifies one candle series.
type Key struct {
	Symbol    string
	Timeframe domain.Timeframe
}

// Stats is a diagnostic snapshot of the store.
type Stats struct {
	Keys    int // number of (symbol, timeframe) series
	Candles int // total candles across all series
}

// Store is the in-memory candle store feeding decision data to the
// pipeline. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	series    map[Key][]domain.Candle
	retention map[domain.Timeframe]int
}

// NewStore creates a candle store. Timeframes absent from retention use
// DefaultRetention; a nil map applies the default everywhere.
func NewStore(retention map[domain.Timeframe]int) *Store {
	caps := make(map[domain.Timeframe]int, len(retention))
	for tf, n := range retention {
		if n > 0 {
			caps[tf] = n
		}
	}
	return &Store{
		series:    make(map[Key][]domain.Candle),
		retention: caps,
	}
}

func (s *Store) cap(tf domain.Timeframe) int {
	if n, ok := s.retention[tf]; ok {
		return n
	}
	return DefaultRetention
}

// Update merges one candle into its series. A forming candle replaces the
// forming tail in place; a closed candle promotes a forming bar with the
// same timestamp or appends. Duplicate closed bars and out-of-order
// deliveries are silent no-ops.
func (s *Store) Update(c domain.Candle, isClosed bool) {
	c.Closed = isClosed

	s.mu.Lock()
	defer s.mu.Unlock()

	k := Key{Symbol: c.Symbol, Timeframe: c.Timeframe}
	series := s.series[k]

	if len(series) == 0 {
		s.series[k] = append(series, c)
		return
	}

	last := series[len(series)-1]
	switch {
	case c.TimestampMs == last.TimestampMs:
		// Same bar: replace a forming tail (promotion when c is closed),
		// never touch an already-closed bar.
		if !last.Closed {
			series[len(series)-1] = c
		}
	case c.TimestampMs > last.TimestampMs:
		if !last.Closed {
			// The forming tail's close was never delivered; a newer bar
			// supersedes it rather than leaving a forming bar mid-series.
			series[len(series)-1] = c
		} else {
			series = append(series, c)
		}
		if max := s.cap(c.Timeframe); len(series) > max {
			series = append(series[:0], series[len(series)-max:]...)
		}
		s.series[k] = series
	default:
		// Out of order: the bar is older than the tail. Skip.
	}
}

// Seed loads historical candles, always marked closed. With replace=true
// the existing series is dropped first; otherwise incoming bars merge with
// existing closed bars (incoming wins on timestamp collision) and a forming
// tail newer than all closed bars is kept.
func (s *Store) Seed(symbol string, tf domain.Timeframe, history []domain.Candle, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := Key{Symbol: symbol, Timeframe: tf}

	byTs := make(map[int64]domain.Candle, len(history))
	if !replace {
		for _, c := range s.series[k] {
			if c.Closed {
				byTs[c.TimestampMs] = c
			}
		}
	}
	var forming *domain.Candle
	if !replace {
		if cur := s.series[k]; len(cur) > 0 && !cur[len(cur)-1].Closed {
			f := cur[len(cur)-1]
			forming = &f
		}
	}

	for _, c := range history {
		c.Symbol = symbol
		c.Timeframe = tf
		c.Closed = true
		byTs[c.TimestampMs] = c
	}

	merged := make([]domain.Candle, 0, len(byTs)+1)
	for _, c := range byTs {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].TimestampMs < merged[j].TimestampMs
	})

	if forming != nil && (len(merged) == 0 || forming.TimestampMs > merged[len(merged)-1].TimestampMs) {
		merged = append(merged, *forming)
	}

	if max := s.cap(tf); len(merged) > max {
		merged = merged[len(merged)-max:]
	}

	if len(merged) == 0 {
		delete(s.series, k)
		return
	}
	s.series[k] = merged
}

// Get returns the series for (symbol, timeframe) including any forming
// tail, limited to the last n bars when n > 0.
func (s *Store) Get(symbol string, tf domain.Timeframe, n int) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return tail(s.series[Key{Symbol: symbol, Timeframe: tf}], n)
}

// GetClosed returns only closed bars, limited to the last n when n > 0.
func (s *Store) GetClosed(symbol string, tf domain.Timeframe, n int) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[Key{Symbol: symbol, Timeframe: tf}]
	closed := make([]domain.Candle, 0, len(series))
	for _, c := range series {
		if c.Closed {
			closed = append(closed, c)
		}
	}
	return tail(closed, n)
}

// LastClosed returns the most recent closed bar, the only bar decisions may
// use. The forming tail is never returned.
func (s *Store) LastClosed(symbol string, tf domain.Timeframe) (domain.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[Key{Symbol: symbol, Timeframe: tf}]
	for i := len(series) - 1; i >= 0; i-- {
		if series[i].Closed {
			return series[i], true
		}
	}
	return domain.Candle{}, false
}

// Snapshot returns key and candle counts for diagnostics.
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Keys: len(s.series)}
	for _, series := range s.series {
		st.Candles += len(series)
	}
	return st
}

// Reset drops all series.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.series = make(map[Key][]domain.Candle)
}

// tail copies the last n elements (all when n <= 0).
func tail(series []domain.Candle, n int) []domain.Candle {
	if len(series) == 0 {
		return nil
	}
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]domain.Candle, len(series))
	copy(out, series)
	return out
}
