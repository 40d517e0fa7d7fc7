// Package tradebook is the source of truth for live trading state: active
// trades by id, pending orders by id, and a capped most-recent-first ring
// of completed trades.
//
// The book owns persistence debouncing. Mutations mark the book dirty and
// arm a timer; the snapshot is written through the configured StateStore
// when the timer fires, so the hot path never waits on storage. Persistence
// failures are logged and never stop in-memory state from advancing.
package tradebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"tradecore/internal/domain"
	"tradecore/internal/storage"
)

// Well-known persistence keys.
const (
	KeyActive    = "tradebook/active"
	KeyPending   = "tradebook/pending"
	KeyCompleted = "tradebook/completed"
)

// DefaultCompletedCap bounds the completed ring when none is configured.
const DefaultCompletedCap = 100

// DefaultDebounce is the persistence coalescing window.
const DefaultDebounce = 2 * time.Second

// Options configures a Book.
type Options struct {
	// Store receives debounced snapshots. Nil keeps the book memory-only.
	Store storage.StateStore

	// CompletedCap bounds the completed ring; 0 means DefaultCompletedCap.
	CompletedCap int

	// Debounce is the write-coalescing window; 0 means DefaultDebounce.
	Debounce time.Duration

	// Logger receives persistence diagnostics; nil uses a stderr logger.
	Logger *log.Logger
}

// Book tracks active trades, pending orders, and completed trades.
// Safe for concurrent use.
type Book struct {
	mu        sync.Mutex
	active    map[string]*domain.TradeState
	pending   map[string]*domain.PendingOrder
	completed []domain.TradeRecord // most recent first

	cap      int
	store    storage.StateStore
	debounce time.Duration
	logger   *log.Logger

	dirty  bool
	timer  *time.Timer
	closed bool
}

// NewBook creates an empty trade book.
func NewBook(opts Options) *Book {
	capacity := opts.CompletedCap
	if capacity <= 0 {
		capacity = DefaultCompletedCap
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[tradebook] ", log.LstdFlags)
	}
	return &Book{
		active:   make(map[string]*domain.TradeState),
		pending:  make(map[string]*domain.PendingOrder),
		cap:      capacity,
		store:    opts.Store,
		debounce: debounce,
		logger:   logger,
	}
}

// UpsertActive stores a copy of the trade under its id.
func (b *Book) UpsertActive(t *domain.TradeState) {
	if t == nil || t.TradeID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *t
	b.active[t.TradeID] = &cp
	b.markDirty()
}

// GetActive returns a copy of the active trade with the given id.
func (b *Book) GetActive(tradeID string) (*domain.TradeState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.active[tradeID]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// ActiveForKey returns copies of all active trades on (symbol, timeframe).
func (b *Book) ActiveForKey(symbol string, tf domain.Timeframe) []*domain.TradeState {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.TradeState
	for _, t := range b.active {
		if t.Signal.Symbol == symbol && t.Signal.Timeframe == tf {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out
}

// RemoveActive drops the trade from active tracking. Removing a missing id
// is a no-op.
func (b *Book) RemoveActive(tradeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.active[tradeID]; !ok {
		return
	}
	delete(b.active, tradeID)
	b.markDirty()
}

// AddPending stores a copy of the order. Returns false when an order with
// the same id already exists; re-admitting the same signal is a no-op.
func (b *Book) AddPending(o *domain.PendingOrder) bool {
	if o == nil || o.OrderID == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pending[o.OrderID]; exists {
		return false
	}
	cp := *o
	b.pending[o.OrderID] = &cp
	b.markDirty()
	return true
}

// UpsertPending replaces the stored order, keeping fill-attempt progress
// (BarsWaited) across runs.
func (b *Book) UpsertPending(o *domain.PendingOrder) {
	if o == nil || o.OrderID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cp := *o
	b.pending[o.OrderID] = &cp
	b.markDirty()
}

// PendingForKey returns copies of all pending orders on (symbol, timeframe).
func (b *Book) PendingForKey(symbol string, tf domain.Timeframe) []*domain.PendingOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*domain.PendingOrder
	for _, o := range b.pending {
		if o.Signal.Symbol == symbol && o.Signal.Timeframe == tf {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out
}

// RemovePending drops the order. Removing a missing id is a no-op.
func (b *Book) RemovePending(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[orderID]; !ok {
		return
	}
	delete(b.pending, orderID)
	b.markDirty()
}

// PushCompleted prepends the record to the completed ring, trimming to the
// configured cap.
func (b *Book) PushCompleted(rec domain.TradeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.completed = append([]domain.TradeRecord{rec}, b.completed...)
	if len(b.completed) > b.cap {
		b.completed = b.completed[:b.cap]
	}
	b.markDirty()
}

// Completed returns copies of the most recent completed trades, newest
// first, limited to n when n > 0.
func (b *Book) Completed(n int) []domain.TradeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.completed
	if n > 0 && len(src) > n {
		src = src[:n]
	}
	out := make([]domain.TradeRecord, len(src))
	copy(out, src)
	return out
}

// Counts returns collection sizes for diagnostics.
func (b *Book) Counts() (active, pending, completed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.active), len(b.pending), len(b.completed)
}

// CleanupStale drops pending orders admitted more than maxAge before now.
// This is a backstop for keys that stop receiving candles; the normal exit
// for a pending order is a fill or its bar-count TTL. Returns the number
// removed.
func (b *Book) CleanupStale(nowMs int64, maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := nowMs - maxAge.Milliseconds()
	var removed int
	for id, o := range b.pending {
		if o.CreatedAt < cutoff {
			delete(b.pending, id)
			removed++
		}
	}
	if removed > 0 {
		b.markDirty()
	}
	return removed
}

// Reset clears all collections and drops any pending persistence.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = make(map[string]*domain.TradeState)
	b.pending = make(map[string]*domain.PendingOrder)
	b.completed = nil
	b.dirty = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Close flushes any dirty state and stops the debounce timer.
func (b *Book) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	return b.SaveNow(ctx)
}

// markDirty arms the debounce timer on the first mutation since the last
// persist. Callers hold mu.
func (b *Book) markDirty() {
	if b.store == nil || b.closed {
		return
	}
	if b.dirty {
		return
	}
	b.dirty = true
	b.timer = time.AfterFunc(b.debounce, b.persistDebounced)
}

// persistDebounced runs on the timer goroutine.
func (b *Book) persistDebounced() {
	b.mu.Lock()
	if b.closed || !b.dirty {
		b.mu.Unlock()
		return
	}
	snap := b.snapshotLocked()
	b.dirty = false
	b.timer = nil
	b.mu.Unlock()

	if err := b.save(context.Background(), snap); err != nil {
		b.logger.Printf("persist failed: %v", err)
	}
}

// SaveNow persists the current state synchronously, regardless of the
// dirty flag.
func (b *Book) SaveNow(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	b.mu.Lock()
	snap := b.snapshotLocked()
	b.dirty = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	return b.save(ctx, snap)
}

// LoadFrom restores all collections from the store. Missing keys load as
// empty collections.
func (b *Book) LoadFrom(ctx context.Context) error {
	if b.store == nil {
		return nil
	}

	active := make(map[string]domain.TradeState)
	if err := b.loadKey(ctx, KeyActive, &active); err != nil {
		return err
	}
	pending := make(map[string]domain.PendingOrder)
	if err := b.loadKey(ctx, KeyPending, &pending); err != nil {
		return err
	}
	var completed []domain.TradeRecord
	if err := b.loadKey(ctx, KeyCompleted, &completed); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = make(map[string]*domain.TradeState, len(active))
	for id, t := range active {
		cp := t
		b.active[id] = &cp
	}
	b.pending = make(map[string]*domain.PendingOrder, len(pending))
	for id, o := range pending {
		cp := o
		b.pending[id] = &cp
	}
	b.completed = completed
	if len(b.completed) > b.cap {
		b.completed = b.completed[:b.cap]
	}
	b.dirty = false
	return nil
}

type snapshot struct {
	active    []byte
	pending   []byte
	completed []byte
}

// snapshotLocked marshals all collections. Callers hold mu.
func (b *Book) snapshotLocked() snapshot {
	activeByValue := make(map[string]domain.TradeState, len(b.active))
	for id, t := range b.active {
		activeByValue[id] = *t
	}
	pendingByValue := make(map[string]domain.PendingOrder, len(b.pending))
	for id, o := range b.pending {
		pendingByValue[id] = *o
	}

	var snap snapshot
	var err error
	if snap.active, err = json.Marshal(activeByValue); err != nil {
		b.logger.Printf("marshal active: %v", err)
		snap.active = []byte("{}")
	}
	if snap.pending, err = json.Marshal(pendingByValue); err != nil {
		b.logger.Printf("marshal pending: %v", err)
		snap.pending = []byte("{}")
	}
	if snap.completed, err = json.Marshal(b.completed); err != nil {
		b.logger.Printf("marshal completed: %v", err)
		snap.completed = []byte("[]")
	}
	return snap
}

func (b *Book) save(ctx context.Context, snap snapshot) error {
	if err := b.store.Save(ctx, KeyActive, snap.active); err != nil {
		return fmt.Errorf("save active: %w", err)
	}
	if err := b.store.Save(ctx, KeyPending, snap.pending); err != nil {
		return fmt.Errorf("save pending: %w", err)
	}
	if err := b.store.Save(ctx, KeyCompleted, snap.completed); err != nil {
		return fmt.Errorf("save completed: %w", err)
	}
	return nil
}

func (b *Book) loadKey(ctx context.Context, key string, dst any) error {
	data, err := b.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
