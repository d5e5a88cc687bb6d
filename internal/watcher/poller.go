package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pinbar/polywatcher/internal/domain"
	"github.com/pinbar/polywatcher/internal/platform/polymarket"
)

// pollConcurrency bounds the number of in-flight REST requests per cycle.
const pollConcurrency = 3

// ClobReader is the slice of the CLOB client the poller uses.
type ClobReader interface {
	FetchTrades(ctx context.Context, market string, after time.Time) ([]domain.Trade, error)
	FetchOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// PositionReader is the slice of the Data API client used for bootstrap.
type PositionReader interface {
	FetchPositions(ctx context.Context, userAddress string) ([]polymarket.APIPosition, error)
}

// MonitorSet is the mutable set of market condition IDs and order IDs the
// poller watches. Entries are reference counted so overlapping Listen
// scopes compose: an ID stays watched until every scope holding it is
// released.
type MonitorSet struct {
	mu      sync.Mutex
	markets map[string]int
	orders  map[string]int
}

// NewMonitorSet creates an empty MonitorSet.
func NewMonitorSet() *MonitorSet {
	return &MonitorSet{
		markets: make(map[string]int),
		orders:  make(map[string]int),
	}
}

// Add registers market condition IDs and order IDs for polling.
func (m *MonitorSet) Add(markets, orders []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range markets {
		if id != "" {
			m.markets[id]++
		}
	}
	for _, id := range orders {
		if id != "" {
			m.orders[id]++
		}
	}
}

// Remove drops one reference from each given ID, deleting entries whose
// count reaches zero.
func (m *MonitorSet) Remove(markets, orders []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range markets {
		if m.markets[id] <= 1 {
			delete(m.markets, id)
		} else {
			m.markets[id]--
		}
	}
	for _, id := range orders {
		if m.orders[id] <= 1 {
			delete(m.orders, id)
		} else {
			m.orders[id]--
		}
	}
}

// Clear empties the set.
func (m *MonitorSet) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets = make(map[string]int)
	m.orders = make(map[string]int)
}

// snapshot returns the current IDs. The poller calls this every cycle so
// mid-run additions take effect on the next tick.
func (m *MonitorSet) snapshot() (markets, orders []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	markets = make([]string, 0, len(m.markets))
	for id := range m.markets {
		markets = append(markets, id)
	}
	orders = make([]string, 0, len(m.orders))
	for id := range m.orders {
		orders = append(orders, id)
	}
	return markets, orders
}

// Listen adds the given IDs and returns a handle that removes them again
// on Close. Close is idempotent.
func (m *MonitorSet) Listen(markets, orders []string) *ListenHandle {
	m.Add(markets, orders)
	return &ListenHandle{set: m, markets: markets, orders: orders}
}

// ListenHandle is a scoped registration in a MonitorSet.
type ListenHandle struct {
	set     *MonitorSet
	markets []string
	orders  []string
	once    sync.Once
}

// Close releases the registration.
func (h *ListenHandle) Close() {
	h.once.Do(func() {
		h.set.Remove(h.markets, h.orders)
	})
}

// Poller periodically re-reads account state over REST and feeds it into
// the same ingest path as the stream. It covers gaps when the websocket is
// down or events are missed.
type Poller struct {
	clob        ClobReader
	data        PositionReader
	set         *MonitorSet
	store       *Store
	interval    time.Duration
	userAddress string
	trades      func(domain.Trade)
	orders      func(domain.Order)
	logger      *slog.Logger
}

// NewPoller creates a Poller over the given monitor set.
func NewPoller(clob ClobReader, data PositionReader, set *MonitorSet, store *Store, interval time.Duration, userAddress string, trades func(domain.Trade), orders func(domain.Order), logger *slog.Logger) *Poller {
	return &Poller{
		clob:        clob,
		data:        data,
		set:         set,
		store:       store,
		interval:    interval,
		userAddress: userAddress,
		trades:      trades,
		orders:      orders,
		logger:      logger.With(slog.String("component", "poller")),
	}
}

// Run executes poll cycles at the configured interval until the context is
// canceled. A failing cycle is logged and the next one runs on schedule.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started", slog.Duration("interval", p.interval))
	defer p.logger.Info("poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle polls every watched market and order once, fanning out with a
// bounded worker group. Errors are logged per target; one bad target does
// not stop the others.
func (p *Poller) cycle(ctx context.Context) {
	markets, orderIDs := p.set.snapshot()
	if len(markets) == 0 && len(orderIDs) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pollConcurrency)

	for _, market := range markets {
		g.Go(func() error {
			if err := p.pollMarket(gctx, market); err != nil {
				p.logger.Warn("market poll failed",
					slog.String("market", market),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	for _, orderID := range orderIDs {
		g.Go(func() error {
			if err := p.pollOrder(gctx, orderID); err != nil {
				p.logger.Warn("order poll failed",
					slog.String("order_id", orderID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	_ = g.Wait()
}

func (p *Poller) pollMarket(ctx context.Context, market string) error {
	trades, err := p.clob.FetchTrades(ctx, market, time.Time{})
	if err != nil {
		return err
	}
	for _, t := range trades {
		p.trades(t)
	}
	return nil
}

// pollOrder re-reads one order. An order the exchange no longer returns is
// treated as canceled; the store's merge rules keep a terminal status from
// being overwritten.
func (p *Poller) pollOrder(ctx context.Context, orderID string) error {
	order, err := p.clob.FetchOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		cur := p.store.Order(orderID)
		cur.Status = domain.OrderStatusCanceled
		cur.Origin = domain.OriginPoll
		p.orders(cur)
		return nil
	}
	p.orders(*order)
	return nil
}

// Bootstrap seeds the position store from the Data API's aggregate view,
// one synthetic confirmed buy per non-empty position. When seedMonitors is
// set the positions' markets are also added to the monitor set.
func (p *Poller) Bootstrap(ctx context.Context, seedMonitors bool) error {
	positions, err := p.data.FetchPositions(ctx, p.userAddress)
	if err != nil {
		return err
	}

	var markets []string
	seeded := 0
	for _, pos := range positions {
		if pos.CurrentValue == 0 {
			continue
		}

		p.trades(domain.Trade{
			ID:         uuid.NewString(),
			AssetID:    pos.Asset,
			MarketID:   pos.ConditionID,
			MarketSlug: pos.Slug,
			Outcome:    pos.Outcome,
			Side:       domain.SideBuy,
			Role:       domain.RoleMaker,
			Price:      pos.AvgPrice,
			Size:       pos.Size,
			Status:     domain.TradeStatusConfirmed,
			MatchTime:  time.Now().UTC(),
			Origin:     domain.OriginSnapshot,
		})
		seeded++
		if pos.ConditionID != "" {
			markets = append(markets, pos.ConditionID)
		}
	}

	if seedMonitors && len(markets) > 0 {
		p.set.Add(markets, nil)
	}

	p.logger.Info("bootstrapped positions",
		slog.Int("seeded", seeded),
		slog.Int("fetched", len(positions)),
	)
	return nil
}
