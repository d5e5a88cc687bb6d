package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/pinbar/polywatcher/internal/domain"
)

// Bus channels the service publishes account updates on.
const (
	positionChannel = "positions"
	orderChannel    = "orders"
)

// MarketReader resolves market metadata, used to backfill slugs on events
// that arrive without one.
type MarketReader interface {
	GetMarket(ctx context.Context, conditionID string) (domain.Market, error)
}

// InitPosition is a position seeded from configuration at startup.
type InitPosition struct {
	AssetID  string
	MarketID string
	Slug     string
	Outcome  string
	Price    float64
	Size     float64
}

// Options controls the watcher's behavior.
type Options struct {
	// UserAddress is the funder address whose account is watched. Required,
	// must be a hex Ethereum address.
	UserAddress string

	// FeeEnabled applies taker fees to trade sizes before lot accounting.
	FeeEnabled bool

	// FeeFn overrides the exchange fee curve. Nil selects DefaultFee. A
	// non-nil override is probed at construction and rejected if it
	// misbehaves.
	FeeFn FeeFunc

	// EnablePoller runs the REST fallback poller alongside the stream.
	EnablePoller bool

	// PollInterval is the fallback poll cadence. Zero selects the default.
	PollInterval time.Duration

	// BootstrapPositions seeds the store from the Data API's aggregate
	// position view at startup.
	BootstrapPositions bool

	// SeedMonitors adds bootstrapped and init-position markets to the
	// poller's monitor set.
	SeedMonitors bool

	// InitPositions are applied as synthetic confirmed buys at startup.
	InitPositions []InitPosition

	// SnapshotInterval exports a JSONL position snapshot to blob storage
	// at this cadence. Zero disables the exporter.
	SnapshotInterval time.Duration
}

const defaultPollInterval = 30 * time.Second

// Deps are the collaborators the service is wired with. Stream, Clob and
// Data drive ingestion; Gamma, Journal, Bus and Blob are optional and
// enable slug backfill, trade journaling, update publishing and snapshot
// export respectively.
type Deps struct {
	Stream  Stream
	Clob    ClobReader
	Data    PositionReader
	Gamma   MarketReader
	Journal domain.TradeJournal
	Bus     domain.SignalBus
	Blob    domain.BlobWriter
	Logger  *slog.Logger
}

// Service owns the state store and the workers that feed it. It is the
// single entry point callers use to read account state.
type Service struct {
	opts   Options
	store  *Store
	set    *MonitorSet
	poller *Poller
	deps   Deps
	logger *slog.Logger

	slugMu sync.Mutex
	slugs  map[string]string

	runCtx context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New validates the options and assembles the service. It does not start
// any workers; call Start.
func New(opts Options, deps Deps) (*Service, error) {
	if !common.IsHexAddress(opts.UserAddress) {
		return nil, fmt.Errorf("watcher: invalid user address %q", opts.UserAddress)
	}
	if opts.FeeFn == nil {
		opts.FeeFn = DefaultFee
	}
	if err := validateFeeFunc(opts.FeeFn); err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Service{
		opts:   opts,
		store:  NewStore(newCalculator(opts.FeeEnabled, opts.FeeFn)),
		set:    NewMonitorSet(),
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "watcher")),
		slugs:  make(map[string]string),
	}

	if deps.Clob != nil {
		s.poller = NewPoller(deps.Clob, deps.Data, s.set, s.store,
			opts.PollInterval, opts.UserAddress, s.ingestTrade, s.ingestOrder, deps.Logger)
	}

	return s, nil
}

// Start applies init positions, bootstraps from the Data API, and launches
// the stream, poller and snapshot workers. It returns once all workers are
// running; Stop tears them down.
func (s *Service) Start(ctx context.Context) error {
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.group, _ = errgroup.WithContext(s.runCtx)

	s.applyInitPositions()

	if s.opts.BootstrapPositions && s.poller != nil && s.deps.Data != nil {
		if err := s.poller.Bootstrap(s.runCtx, s.opts.SeedMonitors); err != nil {
			s.logger.Warn("position bootstrap failed",
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Stream != nil {
		worker := newStreamWorker(s.deps.Stream, s.ingestTrade, s.ingestOrder, s.deps.Logger)
		s.group.Go(func() error {
			return worker.Run(s.runCtx)
		})
	}

	if s.opts.EnablePoller && s.poller != nil {
		s.group.Go(func() error {
			return s.poller.Run(s.runCtx)
		})
	}

	if s.deps.Blob != nil && s.opts.SnapshotInterval > 0 {
		s.group.Go(func() error {
			return s.snapshotLoop(s.runCtx)
		})
	}

	s.logger.Info("watcher started",
		slog.String("user", s.opts.UserAddress),
		slog.Bool("poller", s.opts.EnablePoller),
		slog.Bool("fees", s.opts.FeeEnabled),
	)
	return nil
}

// Stop cancels the workers, waits for them to exit, and closes the store,
// waking any blocked readers.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
		_ = s.group.Wait()
	}
	s.store.Close()
	s.logger.Info("watcher stopped")
}

// --------------------------------------------------------------------------
// Read API
// --------------------------------------------------------------------------

// Position returns the current position snapshot for an asset.
func (s *Service) Position(assetID string) domain.Position {
	return s.store.Position(assetID)
}

// Positions returns every tracked position.
func (s *Service) Positions() []domain.Position {
	return s.store.Positions()
}

// Lots returns the open FIFO lots for an asset, oldest first.
func (s *Service) Lots(assetID string) []domain.Lot {
	return s.store.Lots(assetID)
}

// Order returns the current order snapshot.
func (s *Service) Order(orderID string) domain.Order {
	return s.store.Order(orderID)
}

// Orders returns every tracked order.
func (s *Service) Orders() []domain.Order {
	return s.store.Orders()
}

// OrdersByAsset returns the tracked orders for one asset.
func (s *Service) OrdersByAsset(assetID string) []domain.Order {
	return s.store.OrdersByAsset(assetID)
}

// BlockingPosition waits for the asset's position to change, up to timeout.
// The snapshot is always returned; the error is nil on change,
// domain.ErrNoUpdate on timeout, domain.ErrStoreClosed after Stop.
func (s *Service) BlockingPosition(assetID string, timeout time.Duration) (domain.Position, error) {
	return s.store.BlockingPosition(assetID, timeout)
}

// BlockingOrder is the order-keyed counterpart of BlockingPosition.
func (s *Service) BlockingOrder(orderID string, timeout time.Duration) (domain.Order, error) {
	return s.store.BlockingOrder(orderID, timeout)
}

// --------------------------------------------------------------------------
// Monitor management
// --------------------------------------------------------------------------

// AddHTTPListen registers markets and orders with the fallback poller.
func (s *Service) AddHTTPListen(markets, orders []string) {
	s.set.Add(markets, orders)
}

// RemoveHTTPListen releases one registration for each given ID.
func (s *Service) RemoveHTTPListen(markets, orders []string) {
	s.set.Remove(markets, orders)
}

// ClearHTTPListen empties the poller's monitor set.
func (s *Service) ClearHTTPListen() {
	s.set.Clear()
}

// Listen registers the IDs and returns a handle that releases them on
// Close, for callers that watch a market only for the life of a task.
func (s *Service) Listen(markets, orders []string) *ListenHandle {
	return s.set.Listen(markets, orders)
}

// --------------------------------------------------------------------------
// Ingest path
// --------------------------------------------------------------------------

// positionEvent is the JSON shape published on the positions channel.
type positionEvent struct {
	Event       string  `json:"event"`
	AssetID     string  `json:"asset_id"`
	MarketID    string  `json:"market_id"`
	Size        float64 `json:"size"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
	Sellable    float64 `json:"sellable_size"`
	TradeID     string  `json:"trade_id"`
	Origin      string  `json:"origin"`
	Timestamp   string  `json:"timestamp"`
}

// orderEvent is the JSON shape published on the orders channel.
type orderEvent struct {
	Event       string  `json:"event"`
	OrderID     string  `json:"order_id"`
	AssetID     string  `json:"asset_id"`
	Status      string  `json:"status"`
	SizeMatched float64 `json:"size_matched"`
	Filled      bool    `json:"filled"`
	Origin      string  `json:"origin"`
	Timestamp   string  `json:"timestamp"`
}

// ingestTrade is the single funnel all trade events pass through,
// regardless of origin. Only events that actually mutate state reach the
// journal and the bus.
func (s *Service) ingestTrade(t domain.Trade) {
	if t.MarketSlug == "" && t.MarketID != "" {
		t.MarketSlug = s.resolveSlug(t.MarketID)
	}

	if !s.store.ApplyTrade(t) {
		return
	}

	ctx := s.workerContext()

	if s.deps.Journal != nil {
		if err := s.deps.Journal.Append(ctx, t); err != nil {
			s.logger.Warn("trade journal append failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Bus != nil {
		pos := s.store.Position(t.AssetID)
		s.publish(ctx, positionChannel, positionEvent{
			Event:       "position_update",
			AssetID:     pos.AssetID,
			MarketID:    pos.MarketID,
			Size:        pos.Size,
			AvgPrice:    pos.Price,
			RealizedPnL: pos.RealizedPnL,
			Sellable:    pos.SellableSize,
			TradeID:     t.ID,
			Origin:      string(t.Origin),
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ingestOrder is the order-side funnel.
func (s *Service) ingestOrder(o domain.Order) {
	if o.MarketSlug == "" && o.MarketID != "" {
		o.MarketSlug = s.resolveSlug(o.MarketID)
	}

	if !s.store.ApplyOrder(o) {
		return
	}

	if s.deps.Bus != nil {
		cur := s.store.Order(o.ID)
		s.publish(s.workerContext(), orderChannel, orderEvent{
			Event:       "order_update",
			OrderID:     cur.ID,
			AssetID:     cur.AssetID,
			Status:      string(cur.Status),
			SizeMatched: cur.SizeMatched,
			Filled:      cur.Filled,
			Origin:      string(o.Origin),
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

func (s *Service) publish(ctx context.Context, channel string, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.deps.Bus.Publish(ctx, channel, data); err != nil {
		s.logger.Debug("bus publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// resolveSlug maps a condition ID to its market slug via the Gamma API,
// caching results. Lookups are best effort; a failure returns "".
func (s *Service) resolveSlug(conditionID string) string {
	if s.deps.Gamma == nil {
		return ""
	}

	s.slugMu.Lock()
	if slug, ok := s.slugs[conditionID]; ok {
		s.slugMu.Unlock()
		return slug
	}
	s.slugMu.Unlock()

	ctx, cancel := context.WithTimeout(s.workerContext(), 5*time.Second)
	defer cancel()

	m, err := s.deps.Gamma.GetMarket(ctx, conditionID)
	if err != nil {
		return ""
	}

	s.slugMu.Lock()
	s.slugs[conditionID] = m.Slug
	s.slugMu.Unlock()
	return m.Slug
}

func (s *Service) applyInitPositions() {
	var markets []string
	for _, p := range s.opts.InitPositions {
		if p.AssetID == "" || p.Size == 0 {
			continue
		}
		s.ingestTrade(domain.Trade{
			ID:         fmt.Sprintf("init-%s", p.AssetID),
			AssetID:    p.AssetID,
			MarketID:   p.MarketID,
			MarketSlug: p.Slug,
			Outcome:    p.Outcome,
			Side:       domain.SideBuy,
			Role:       domain.RoleMaker,
			Price:      p.Price,
			Size:       p.Size,
			Status:     domain.TradeStatusConfirmed,
			MatchTime:  time.Now().UTC(),
			Origin:     domain.OriginSnapshot,
		})
		if p.MarketID != "" {
			markets = append(markets, p.MarketID)
		}
	}
	if s.opts.SeedMonitors && len(markets) > 0 {
		s.set.Add(markets, nil)
	}
}

// snapshotLoop periodically exports every position as one JSONL object per
// line to blob storage.
func (s *Service) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.exportSnapshot(ctx); err != nil {
				s.logger.Warn("snapshot export failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *Service) exportSnapshot(ctx context.Context) error {
	positions := s.store.Positions()
	if len(positions) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range positions {
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
	}

	key := fmt.Sprintf("snapshots/positions-%s.jsonl",
		time.Now().UTC().Format("20060102T150405Z"))
	return s.deps.Blob.Put(ctx, key, buf.Bytes(), "application/x-ndjson")
}

// workerContext returns the running context, or Background before Start.
func (s *Service) workerContext() context.Context {
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
