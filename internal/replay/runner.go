package replay

import (
	"context"
	"errors"
	"fmt"

	"tradecore/internal/candles"
	"tradecore/internal/domain"
	"tradecore/internal/orchestrator"
	"tradecore/internal/storage"
)

// Runner feeds an ordered event stream through the engine and collects
// run statistics. Candle events are pushed into the candle store and then
// trigger a close run; signal events go through admission.
type Runner struct {
	engine  *orchestrator.Engine
	store   *candles.Store
	records storage.TradeRecordStore
}

// NewRunner creates a new replay runner. A nil records store skips
// completed-trade persistence; the trade book's capped ring would lose
// older completions on long runs.
func NewRunner(engine *orchestrator.Engine, store *candles.Store, records storage.TradeRecordStore) *Runner {
	return &Runner{
		engine:  engine,
		store:   store,
		records: records,
	}
}

// Run replays events in order. Events should come from MergeStream so
// signals precede the bar they were generated on.
//
// Governor denials are counted, not errors. A malformed signal aborts the
// replay: scripted inputs are expected to be well formed. On context
// cancellation the stats collected so far are returned with the error.
func (r *Runner) Run(ctx context.Context, events []Event) (*Stats, error) {
	stats := NewStats()

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		switch ev.Type {
		case EventTypeSignal:
			_, err := r.engine.AdmitSignal(ev.Signal, ev.Timestamp)
			switch {
			case err == nil:
				stats.SignalsAdmitted++
			case errors.Is(err, orchestrator.ErrAdmissionDenied):
				stats.SignalsDenied++
			default:
				return stats, fmt.Errorf("event %d: admit signal %s: %w", i, ev.Signal.ID, err)
			}

		case EventTypeCandle:
			c := ev.Candle
			r.store.Update(c, true)
			delta := r.engine.RunOnClose(c.Symbol, c.Timeframe, c.TimestampMs)
			stats.applyDelta(delta)
			stats.BarsProcessed++

			if r.records != nil && len(delta.Completed) > 0 {
				recs := make([]*domain.TradeRecord, len(delta.Completed))
				for j := range delta.Completed {
					recs[j] = &delta.Completed[j]
				}
				if err := r.records.InsertBulk(ctx, recs); err != nil {
					return stats, fmt.Errorf("event %d: persist completed trades: %w", i, err)
				}
			}

		default:
			return stats, fmt.Errorf("event %d: %w: %q", i, ErrUnknownEventType, ev.Type)
		}
	}

	return stats, nil
}
