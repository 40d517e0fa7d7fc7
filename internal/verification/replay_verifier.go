package verification

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"tradecore/internal/candles"
	"tradecore/internal/costs"
	"tradecore/internal/domain"
	"tradecore/internal/entry"
	"tradecore/internal/exit"
	"tradecore/internal/governor"
	"tradecore/internal/journal"
	"tradecore/internal/orchestrator"
	"tradecore/internal/profile"
	"tradecore/internal/replay"
	"tradecore/internal/storage"
	"tradecore/internal/storage/memory"
	"tradecore/internal/tradebook"
)

// ErrTradeNotFound is returned when the trade id is not in the store.
var ErrTradeNotFound = errors.New("trade not found")

// ReplayVerifier implements Verifier by re-running the recorded inputs
// through a freshly assembled engine. Trade ids are deterministic in the
// signal and fill bar, so a faithful replay reproduces the stored ids
// exactly and every completion can be matched to its stored record.
type ReplayVerifier struct {
	stored  storage.TradeRecordStore
	bars    []domain.Candle
	signals []domain.Signal

	profiles  profile.Table
	limits    governor.Limits
	rates     costs.Rates
	entryOpts entry.Options
	retention map[domain.Timeframe]int
}

// Options configures a ReplayVerifier. Bars and Signals must be the
// inputs of the run that produced the stored records, and the engine
// parameters must match that run, or every trade diverges.
type Options struct {
	Stored  storage.TradeRecordStore
	Bars    []domain.Candle
	Signals []domain.Signal

	Profiles  profile.Table
	Limits    governor.Limits
	Costs     costs.Rates
	Entry     entry.Options
	Retention map[domain.Timeframe]int
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts Options) *ReplayVerifier {
	return &ReplayVerifier{
		stored:    opts.Stored,
		bars:      opts.Bars,
		signals:   opts.Signals,
		profiles:  opts.Profiles,
		limits:    opts.Limits,
		rates:     opts.Costs,
		entryOpts: opts.Entry,
		retention: opts.Retention,
	}
}

var _ Verifier = (*ReplayVerifier)(nil)

// VerifyTrade verifies a single trade by id. Engine state spans the
// whole stream (admission caps, candle history), so checking one trade
// still costs a full replay.
func (v *ReplayVerifier) VerifyTrade(ctx context.Context, tradeID string) (*Result, error) {
	stored, err := v.stored.GetByID(ctx, tradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}

	replayed, err := v.replayAll(ctx)
	if err != nil {
		return nil, err
	}

	return compare(stored, replayed[tradeID]), nil
}

// VerifyAll replays the inputs once and checks every stored trade
// against the outcome.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	stored, err := v.stored.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	replayed, err := v.replayAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TotalTrades: len(stored),
		Results:     make([]Result, 0, len(stored)),
	}

	seen := make(map[string]bool, len(stored))
	for _, st := range stored {
		seen[st.TradeID] = true

		res := compare(st, replayed[st.TradeID])
		report.Results = append(report.Results, *res)
		if res.Match {
			report.MatchedTrades++
		} else {
			report.DivergentTrades++
		}
	}

	for id := range replayed {
		if !seen[id] {
			report.ExtraTrades++
		}
	}

	return report, nil
}

// compare builds the Result for one stored record. A nil replayed
// record means the replay never completed that trade, which is itself a
// divergence.
func compare(stored, replayed *domain.TradeRecord) *Result {
	if replayed == nil {
		return &Result{
			TradeID:    stored.TradeID,
			StoredNetR: stored.NetR,
			Divergences: []FieldDivergence{
				{Field: "TradeID", Stored: stored.TradeID, Replayed: nil},
			},
		}
	}

	divergences := CompareTradeRecords(stored, replayed)
	return &Result{
		TradeID:      stored.TradeID,
		Match:        len(divergences) == 0,
		Divergences:  divergences,
		StoredNetR:   stored.NetR,
		ReplayedNetR: replayed.NetR,
	}
}

// replayAll runs the recorded stream into a throwaway store and indexes
// the completions by trade id. The pipeline is assembled exactly like a
// live replay, minus journaling and logging.
func (v *ReplayVerifier) replayAll(ctx context.Context) (map[string]*domain.TradeRecord, error) {
	records := memory.NewTradeRecordStore()
	store := candles.NewStore(v.retention)
	discard := log.New(io.Discard, "", 0)

	eng := orchestrator.New(orchestrator.Options{
		Candles:  store,
		Book:     tradebook.NewBook(tradebook.Options{Logger: discard}),
		Governor: governor.New(v.limits),
		Machine:  exit.NewMachine(v.rates),
		Resolver: entry.NewResolver(v.rates, v.entryOpts),
		Profiles: v.profiles,
		Journal:  journal.Nop{},
		Logger:   discard,
	})

	runner := replay.NewRunner(eng, store, records)
	if _, err := runner.Run(ctx, replay.MergeStream(v.bars, v.signals)); err != nil {
		return nil, fmt.Errorf("replay recorded inputs: %w", err)
	}

	recs, err := records.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.TradeRecord, len(recs))
	for _, r := range recs {
		byID[r.TradeID] = r
	}
	return byID, nil
}
