package watcher

import (
	"sort"
	"sync"
	"time"

	"github.com/pinbar/polywatcher/internal/domain"
)

// appliedTrade remembers how a trade was accounted so later status updates
// for the same identity key adjust bookkeeping without re-running the lot
// mutation.
type appliedTrade struct {
	status  domain.TradeStatus
	side    domain.Side
	adjSize float64
}

// positionState bundles a position snapshot with its open-lot queue and the
// set of trade identities already applied to it.
type positionState struct {
	pos  domain.Position
	lots lotQueue
	seen map[string]appliedTrade
}

// Store is the shared, thread-safe view of per-asset positions and
// per-order records. One mutex guards the maps and the per-key wait
// channels; a channel is closed and replaced on every mutation of its key
// so all concurrent blocking readers wake.
//
// Records are created lazily on the first event for an unseen key and live
// for the lifetime of the store.
type Store struct {
	calc *calculator

	mu        sync.Mutex
	positions map[string]*positionState
	orders    map[string]domain.Order
	waiters   map[string]chan struct{}
	closed    bool
	done      chan struct{}
}

// NewStore creates an empty store whose trade events are routed through the
// given calculator.
func NewStore(calc *calculator) *Store {
	return &Store{
		calc:      calc,
		positions: make(map[string]*positionState),
		orders:    make(map[string]domain.Order),
		waiters:   make(map[string]chan struct{}),
		done:      make(chan struct{}),
	}
}

// ApplyTrade merges one trade event into the asset's position. Re-applying
// an already-seen trade ID is a no-op unless the event advances the trade's
// settlement status, in which case only the status-dependent bookkeeping
// (sellable size, failure flags) is adjusted; the lot queue is never
// mutated twice for one trade. It returns whether state changed.
//
// Applies are still accepted after Close so in-flight workers can drain.
func (s *Store) ApplyTrade(t domain.Trade) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.positionFor(t)
	prev, dup := st.seen[t.ID]
	if dup {
		if !prev.status.Advances(t.Status) {
			return false
		}
		s.advanceTrade(st, t, prev)
		s.notify(t.AssetID)
		return true
	}

	if t.Status == domain.TradeStatusFailed {
		st.pos.HasFailed = true
		st.pos.FailedTrades = append(st.pos.FailedTrades, t.ID)
		st.seen[t.ID] = appliedTrade{status: t.Status, side: t.Side}
		s.touch(&st.pos, t.MatchTime)
		s.notify(t.AssetID)
		return true
	}

	adj := clean(s.calc.adjustedSize(t))
	s.calc.apply(&st.pos, &st.lots, t, adj)
	st.seen[t.ID] = appliedTrade{status: t.Status, side: t.Side, adjSize: adj}
	s.notify(t.AssetID)
	return true
}

// advanceTrade applies a forward status transition for a trade whose size
// already went through lot accounting.
func (s *Store) advanceTrade(st *positionState, t domain.Trade, prev appliedTrade) {
	switch t.Status {
	case domain.TradeStatusConfirmed:
		// On-chain settlement: buys become sellable only now.
		if prev.side == domain.SideBuy {
			st.pos.SellableSize += prev.adjSize
		}
	case domain.TradeStatusFailed:
		// Settlement failure after matching. The lot mutation is kept; the
		// failure is recorded for audit so the operator can reconcile.
		st.pos.HasFailed = true
		st.pos.FailedTrades = append(st.pos.FailedTrades, t.ID)
	}
	st.seen[t.ID] = appliedTrade{status: t.Status, side: prev.side, adjSize: prev.adjSize}
	s.touch(&st.pos, t.MatchTime)
}

// ApplyOrder merges one order event into the order record. Matched size
// only increases, terminal statuses never revert, and a payload that grows
// neither the matched size nor changes the status is a no-op. It returns
// whether state changed.
func (s *Store) ApplyOrder(o domain.Order) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.orders[o.ID]
	if ok {
		if o.SizeMatched <= existing.SizeMatched && o.Status == existing.Status {
			return false
		}
		o = mergeOrder(existing, o)
	}
	o.Filled = o.IsFilled()
	s.orders[o.ID] = o
	s.notify(o.ID)
	return true
}

// mergeOrder folds an incoming order event onto the tracked record.
func mergeOrder(old, next domain.Order) domain.Order {
	if next.SizeMatched < old.SizeMatched {
		next.SizeMatched = old.SizeMatched
	}
	if next.OriginalSize == 0 {
		next.OriginalSize = old.OriginalSize
	}
	if next.Price == 0 {
		next.Price = old.Price
	}
	if next.MarketID == "" {
		next.MarketID = old.MarketID
	}
	if next.MarketSlug == "" {
		next.MarketSlug = old.MarketSlug
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = old.CreatedAt
	}
	if isTerminalOrderStatus(old.Status) && !isTerminalOrderStatus(next.Status) {
		next.Status = old.Status
	}
	next.AssociateTrades = unionTradeIDs(old.AssociateTrades, next.AssociateTrades)
	return next
}

func isTerminalOrderStatus(st domain.OrderStatus) bool {
	return st == domain.OrderStatusMatched || st == domain.OrderStatusCanceled
}

func unionTradeIDs(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]struct{}, len(a))
	out := a
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, dup := seen[id]; !dup {
			out = append(out, id)
		}
	}
	return out
}

// Position returns the current snapshot for an asset without blocking. An
// unknown asset yields a zero-valued position carrying only the asset ID.
func (s *Store) Position(assetID string) domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.positions[assetID]; ok {
		return snapshotPosition(st)
	}
	return domain.Position{AssetID: assetID}
}

// Lots returns a copy of the open-lot queue for an asset, oldest first.
func (s *Store) Lots(assetID string) []domain.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.positions[assetID]; ok {
		return st.lots.snapshot()
	}
	return nil
}

// Order returns the current snapshot for an order without blocking. An
// unknown order yields a zero-valued record carrying only the order ID.
func (s *Store) Order(orderID string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orders[orderID]; ok {
		return o
	}
	return domain.Order{ID: orderID}
}

// Positions returns a snapshot of every tracked position, sorted by asset
// ID for stable output.
func (s *Store) Positions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, 0, len(s.positions))
	for _, st := range s.positions {
		out = append(out, snapshotPosition(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Orders returns a snapshot of every tracked order, sorted by order ID.
func (s *Store) Orders() []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OrdersByAsset returns every tracked order for the given asset.
func (s *Store) OrdersByAsset(assetID string) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, o := range s.orders {
		if o.AssetID == assetID {
			out = append(out, o)
		}
	}
	return out
}

// BlockingPosition suspends the caller until the asset's position mutates,
// the timeout elapses, or the store closes. The current snapshot is always
// returned; the error distinguishes the outcome: nil on mutation,
// domain.ErrNoUpdate on timeout, domain.ErrStoreClosed on shutdown.
func (s *Store) BlockingPosition(assetID string, timeout time.Duration) (domain.Position, error) {
	err := s.wait(assetID, timeout)
	return s.Position(assetID), err
}

// BlockingOrder is the order-keyed counterpart of BlockingPosition.
func (s *Store) BlockingOrder(orderID string, timeout time.Duration) (domain.Order, error) {
	err := s.wait(orderID, timeout)
	return s.Order(orderID), err
}

// Close wakes every blocked reader with domain.ErrStoreClosed and marks the
// store closed. Reads keep returning the last snapshots and applies are
// still accepted; Close is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// positionFor returns the state for a trade's asset, creating it on first
// sight. Market labels are backfilled from later events when the first one
// arrived without them. Caller must hold s.mu.
func (s *Store) positionFor(t domain.Trade) *positionState {
	st, ok := s.positions[t.AssetID]
	if !ok {
		st = &positionState{
			pos: domain.Position{
				AssetID:   t.AssetID,
				MarketID:  t.MarketID,
				Outcome:   t.Outcome,
				CreatedAt: t.MatchTime,
			},
			seen: make(map[string]appliedTrade),
		}
		s.positions[t.AssetID] = st
	}
	if st.pos.MarketID == "" {
		st.pos.MarketID = t.MarketID
	}
	if st.pos.Outcome == "" {
		st.pos.Outcome = t.Outcome
	}
	if st.pos.MarketSlug == "" {
		st.pos.MarketSlug = t.MarketSlug
	}
	return st
}

func (s *Store) touch(pos *domain.Position, ts time.Time) {
	if ts.After(pos.LastUpdate) {
		pos.LastUpdate = ts
	}
}

// notify wakes all readers blocked on key. Caller must hold s.mu.
func (s *Store) notify(key string) {
	if ch, ok := s.waiters[key]; ok {
		close(ch)
		delete(s.waiters, key)
	}
}

// waiter returns the broadcast channel for key, creating it if needed.
// Caller must hold s.mu.
func (s *Store) waiter(key string) chan struct{} {
	ch, ok := s.waiters[key]
	if !ok {
		ch = make(chan struct{})
		s.waiters[key] = ch
	}
	return ch
}

// wait blocks until key mutates, timeout elapses, or the store closes.
func (s *Store) wait(key string, timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrStoreClosed
	}
	ch := s.waiter(key)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-timer.C:
		return domain.ErrNoUpdate
	case <-s.done:
		return domain.ErrStoreClosed
	}
}

// snapshotPosition deep-copies the mutable slices so callers can hold the
// snapshot without racing the store.
func snapshotPosition(st *positionState) domain.Position {
	pos := st.pos
	if len(pos.FailedTrades) > 0 {
		pos.FailedTrades = append([]string(nil), pos.FailedTrades...)
	}
	return pos
}
