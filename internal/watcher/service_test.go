package watcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinbar/polywatcher/internal/domain"
)

const testAddress = "0x56687bf447db6ffa42ffe2204a05edaa20f55839"

type fakeJournal struct {
	mu     sync.Mutex
	trades []domain.Trade
}

func (f *fakeJournal) Append(ctx context.Context, t domain.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, t)
	return nil
}

type fakeBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (f *fakeBus) Publish(ctx context.Context, channel string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messages == nil {
		f.messages = make(map[string][][]byte)
	}
	f.messages[channel] = append(f.messages[channel], payload)
	return nil
}

func newTestService(t *testing.T, opts Options, deps Deps) *Service {
	t.Helper()
	if opts.UserAddress == "" {
		opts.UserAddress = testAddress
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	svc, err := New(opts, deps)
	require.NoError(t, err)
	return svc
}

func TestNew_RejectsInvalidAddress(t *testing.T) {
	_, err := New(Options{UserAddress: "not-an-address"}, Deps{})
	assert.Error(t, err)

	_, err = New(Options{UserAddress: ""}, Deps{})
	assert.Error(t, err)
}

func TestNew_RejectsBrokenFeeFunc(t *testing.T) {
	calls := 0
	_, err := New(Options{
		UserAddress: testAddress,
		FeeFn: func(size, price, bps float64) float64 {
			calls++
			return size + float64(calls)
		},
	}, Deps{})
	assert.Error(t, err)
}

func TestService_InitPositionsApplied(t *testing.T) {
	svc := newTestService(t, Options{
		InitPositions: []InitPosition{
			{AssetID: "a1", MarketID: "m1", Price: 0.42, Size: 100},
			{AssetID: "", Price: 0.5, Size: 10},
			{AssetID: "a2", Price: 0.5, Size: 0},
		},
		SeedMonitors: true,
	}, Deps{})

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	pos := svc.Position("a1")
	assert.InDelta(t, 100.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.42, pos.Price, 1e-9)
	assert.InDelta(t, 100.0, pos.SellableSize, 1e-9)

	assert.Zero(t, svc.Position("a2").Size)
	assert.Len(t, svc.Positions(), 1)
}

func TestService_IngestTradeFansOut(t *testing.T) {
	journal := &fakeJournal{}
	bus := &fakeBus{}
	svc := newTestService(t, Options{}, Deps{Journal: journal, Bus: bus})

	trade := makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10)
	svc.ingestTrade(trade)

	require.Len(t, journal.trades, 1)
	assert.Equal(t, "t1", journal.trades[0].ID)

	require.Len(t, bus.messages["positions"], 1)
	var ev positionEvent
	require.NoError(t, json.Unmarshal(bus.messages["positions"][0], &ev))
	assert.Equal(t, "position_update", ev.Event)
	assert.Equal(t, "asset-1", ev.AssetID)
	assert.InDelta(t, 10.0, ev.Size, 1e-9)
	assert.Equal(t, "t1", ev.TradeID)

	// A duplicate never reaches the journal or the bus.
	svc.ingestTrade(trade)
	assert.Len(t, journal.trades, 1)
	assert.Len(t, bus.messages["positions"], 1)
}

func TestService_IngestOrderPublishes(t *testing.T) {
	bus := &fakeBus{}
	svc := newTestService(t, Options{}, Deps{Bus: bus})

	svc.ingestOrder(makeOrder("o1", domain.OrderStatusLive, 40))

	require.Len(t, bus.messages["orders"], 1)
	var ev orderEvent
	require.NoError(t, json.Unmarshal(bus.messages["orders"][0], &ev))
	assert.Equal(t, "order_update", ev.Event)
	assert.Equal(t, "o1", ev.OrderID)
	assert.InDelta(t, 40.0, ev.SizeMatched, 1e-9)

	// No-op payloads publish nothing.
	svc.ingestOrder(makeOrder("o1", domain.OrderStatusLive, 40))
	assert.Len(t, bus.messages["orders"], 1)
}

func TestService_MonitorManagement(t *testing.T) {
	svc := newTestService(t, Options{}, Deps{})

	svc.AddHTTPListen([]string{"m1"}, []string{"o1"})
	markets, orders := svc.set.snapshot()
	assert.Equal(t, []string{"m1"}, markets)
	assert.Equal(t, []string{"o1"}, orders)

	h := svc.Listen([]string{"m2"}, nil)
	markets, _ = svc.set.snapshot()
	assert.Len(t, markets, 2)

	h.Close()
	svc.RemoveHTTPListen([]string{"m1"}, []string{"o1"})
	markets, orders = svc.set.snapshot()
	assert.Empty(t, markets)
	assert.Empty(t, orders)

	svc.AddHTTPListen([]string{"m3"}, nil)
	svc.ClearHTTPListen()
	markets, _ = svc.set.snapshot()
	assert.Empty(t, markets)
}

func TestService_StopClosesStore(t *testing.T) {
	svc := newTestService(t, Options{}, Deps{})
	require.NoError(t, svc.Start(context.Background()))
	svc.Stop()

	_, err := svc.BlockingPosition("a1", time.Second)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)
}

func TestService_SlugBackfillCached(t *testing.T) {
	gamma := &fakeGamma{markets: map[string]domain.Market{
		"m1": {ID: "m1", Slug: "who-wins"},
	}}
	svc := newTestService(t, Options{}, Deps{Gamma: gamma})

	trade := makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10)
	trade.MarketID = "m1"
	trade.MarketSlug = ""
	svc.ingestTrade(trade)

	assert.Equal(t, "who-wins", svc.Position("asset-1").MarketSlug)

	second := trade
	second.ID = "t2"
	svc.ingestTrade(second)
	assert.Equal(t, 1, gamma.calls, "lookups are cached per market")
}

type fakeGamma struct {
	mu      sync.Mutex
	markets map[string]domain.Market
	calls   int
}

func (f *fakeGamma) GetMarket(ctx context.Context, conditionID string) (domain.Market, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.markets[conditionID], nil
}
