package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinbar/polywatcher/internal/domain"
)

func newTestStore() *Store {
	return NewStore(newCalculator(false, nil))
}

func makeTrade(id string, side domain.Side, status domain.TradeStatus, price, size float64) domain.Trade {
	return domain.Trade{
		ID:        id,
		AssetID:   "asset-1",
		MarketID:  "0xmarket",
		Side:      side,
		Role:      domain.RoleTaker,
		Price:     price,
		Size:      size,
		Status:    status,
		MatchTime: time.Now().UTC(),
		Origin:    domain.OriginStream,
	}
}

func TestStore_ApplyTrade_Deduplicates(t *testing.T) {
	s := newTestStore()
	buy := makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10)

	assert.True(t, s.ApplyTrade(buy))
	assert.False(t, s.ApplyTrade(buy))
	assert.False(t, s.ApplyTrade(buy))

	pos := s.Position("asset-1")
	assert.InDelta(t, 10.0, pos.Size, 1e-9)
	assert.InDelta(t, 10.0, pos.Volume, 1e-9)
}

func TestStore_ApplyTrade_StatusUpgradeAddsSellableOnce(t *testing.T) {
	s := newTestStore()

	matched := makeTrade("t1", domain.SideBuy, domain.TradeStatusMatched, 0.40, 10)
	require.True(t, s.ApplyTrade(matched))

	pos := s.Position("asset-1")
	assert.InDelta(t, 10.0, pos.Size, 1e-9)
	assert.Zero(t, pos.SellableSize)

	confirmed := matched
	confirmed.Status = domain.TradeStatusConfirmed
	require.True(t, s.ApplyTrade(confirmed))

	pos = s.Position("asset-1")
	assert.InDelta(t, 10.0, pos.Size, 1e-9, "lots must not run twice")
	assert.InDelta(t, 10.0, pos.SellableSize, 1e-9)

	// A replay of the confirmed event changes nothing.
	assert.False(t, s.ApplyTrade(confirmed))
	assert.InDelta(t, 10.0, s.Position("asset-1").SellableSize, 1e-9)
}

func TestStore_ApplyTrade_StatusNeverRegresses(t *testing.T) {
	s := newTestStore()

	confirmed := makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10)
	require.True(t, s.ApplyTrade(confirmed))

	stale := confirmed
	stale.Status = domain.TradeStatusMatched
	assert.False(t, s.ApplyTrade(stale))

	assert.InDelta(t, 10.0, s.Position("asset-1").SellableSize, 1e-9)
}

func TestStore_ApplyTrade_FailedFirstSeen(t *testing.T) {
	s := newTestStore()

	failed := makeTrade("t1", domain.SideBuy, domain.TradeStatusFailed, 0.40, 10)
	require.True(t, s.ApplyTrade(failed))

	pos := s.Position("asset-1")
	assert.Zero(t, pos.Size, "failed trades never touch the lots")
	assert.Zero(t, pos.Volume)
	assert.True(t, pos.HasFailed)
	assert.Equal(t, []string{"t1"}, pos.FailedTrades)
}

func TestStore_ApplyTrade_FailureAfterMatchKeepsLots(t *testing.T) {
	s := newTestStore()

	matched := makeTrade("t1", domain.SideBuy, domain.TradeStatusMatched, 0.40, 10)
	require.True(t, s.ApplyTrade(matched))

	failed := matched
	failed.Status = domain.TradeStatusFailed
	require.True(t, s.ApplyTrade(failed))

	pos := s.Position("asset-1")
	assert.InDelta(t, 10.0, pos.Size, 1e-9)
	assert.True(t, pos.HasFailed)
	assert.Equal(t, []string{"t1"}, pos.FailedTrades)
}

func TestStore_ApplyTrade_FifoAcrossEvents(t *testing.T) {
	s := newTestStore()

	require.True(t, s.ApplyTrade(makeTrade("b1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10)))
	require.True(t, s.ApplyTrade(makeTrade("b2", domain.SideBuy, domain.TradeStatusConfirmed, 0.60, 10)))
	require.True(t, s.ApplyTrade(makeTrade("s1", domain.SideSell, domain.TradeStatusConfirmed, 0.70, 15)))

	pos := s.Position("asset-1")
	assert.InDelta(t, 5.0, pos.Size, 1e-9)
	assert.InDelta(t, 0.60, pos.Price, 1e-9)
	assert.InDelta(t, 10*(0.70-0.40)+5*(0.70-0.60), pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 5.0, pos.SellableSize, 1e-9)

	lots := s.Lots("asset-1")
	require.Len(t, lots, 1)
	assert.InDelta(t, 0.60, lots[0].Price, 1e-9)
}

func TestStore_Position_UnknownAsset(t *testing.T) {
	s := newTestStore()
	pos := s.Position("nope")
	assert.Equal(t, "nope", pos.AssetID)
	assert.Zero(t, pos.Size)
	assert.Nil(t, s.Lots("nope"))
}

func makeOrder(id string, status domain.OrderStatus, matched float64) domain.Order {
	return domain.Order{
		ID:           id,
		AssetID:      "asset-1",
		Side:         domain.SideBuy,
		OriginalSize: 100,
		SizeMatched:  matched,
		Price:        0.55,
		Status:       status,
		Origin:       domain.OriginStream,
	}
}

func TestStore_ApplyOrder_MatchedSizeMonotonic(t *testing.T) {
	s := newTestStore()

	require.True(t, s.ApplyOrder(makeOrder("o1", domain.OrderStatusLive, 40)))

	// Stale payload with a smaller matched size and the same status.
	assert.False(t, s.ApplyOrder(makeOrder("o1", domain.OrderStatusLive, 10)))
	assert.InDelta(t, 40.0, s.Order("o1").SizeMatched, 1e-9)

	// Smaller matched size but a status change still applies; the matched
	// size is kept.
	require.True(t, s.ApplyOrder(makeOrder("o1", domain.OrderStatusCanceled, 10)))
	got := s.Order("o1")
	assert.InDelta(t, 40.0, got.SizeMatched, 1e-9)
	assert.Equal(t, domain.OrderStatusCanceled, got.Status)
}

func TestStore_ApplyOrder_TerminalStatusSticks(t *testing.T) {
	s := newTestStore()

	require.True(t, s.ApplyOrder(makeOrder("o1", domain.OrderStatusMatched, 100)))
	require.True(t, s.ApplyOrder(makeOrder("o1", domain.OrderStatusLive, 120)))

	assert.Equal(t, domain.OrderStatusMatched, s.Order("o1").Status)
}

func TestStore_ApplyOrder_FilledWithinTolerance(t *testing.T) {
	s := newTestStore()

	require.True(t, s.ApplyOrder(makeOrder("o1", domain.OrderStatusLive, 99.6)))
	assert.True(t, s.Order("o1").Filled)
}

func TestStore_ApplyOrder_UnionsAssociateTrades(t *testing.T) {
	s := newTestStore()

	first := makeOrder("o1", domain.OrderStatusLive, 10)
	first.AssociateTrades = []string{"t1"}
	require.True(t, s.ApplyOrder(first))

	second := makeOrder("o1", domain.OrderStatusLive, 20)
	second.AssociateTrades = []string{"t1", "t2"}
	require.True(t, s.ApplyOrder(second))

	assert.ElementsMatch(t, []string{"t1", "t2"}, s.Order("o1").AssociateTrades)
}

func TestStore_BlockingPosition_Timeout(t *testing.T) {
	s := newTestStore()

	start := time.Now()
	pos, err := s.BlockingPosition("asset-1", 50*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrNoUpdate)
	assert.Equal(t, "asset-1", pos.AssetID)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestStore_BlockingPosition_WakesOnMutation(t *testing.T) {
	s := newTestStore()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.ApplyTrade(makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10))
	}()

	pos, err := s.BlockingPosition("asset-1", 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, pos.Size, 1e-9)
}

func TestStore_BlockingOrder_WakesOnMutation(t *testing.T) {
	s := newTestStore()

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.ApplyOrder(makeOrder("o1", domain.OrderStatusLive, 5))
	}()

	got, err := s.BlockingOrder("o1", 2*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, got.SizeMatched, 1e-9)
}

func TestStore_Close_WakesBlockedReaders(t *testing.T) {
	s := newTestStore()

	errs := make(chan error, 1)
	go func() {
		_, err := s.BlockingPosition("asset-1", 10*time.Second)
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, domain.ErrStoreClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked reader was not woken by Close")
	}

	// Blocking reads after close fail immediately.
	_, err := s.BlockingPosition("asset-1", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrStoreClosed)

	// Applies are still accepted so in-flight workers can drain.
	assert.True(t, s.ApplyTrade(makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.40, 10)))
	assert.InDelta(t, 10.0, s.Position("asset-1").Size, 1e-9)

	s.Close()
}

func TestStore_PositionsAndOrdersSorted(t *testing.T) {
	s := newTestStore()

	b := makeTrade("t1", domain.SideBuy, domain.TradeStatusConfirmed, 0.5, 1)
	b.AssetID = "bbb"
	a := makeTrade("t2", domain.SideBuy, domain.TradeStatusConfirmed, 0.5, 1)
	a.AssetID = "aaa"
	require.True(t, s.ApplyTrade(b))
	require.True(t, s.ApplyTrade(a))

	positions := s.Positions()
	require.Len(t, positions, 2)
	assert.Equal(t, "aaa", positions[0].AssetID)
	assert.Equal(t, "bbb", positions[1].AssetID)
}
