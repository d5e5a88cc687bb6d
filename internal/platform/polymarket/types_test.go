package polymarket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinbar/polywatcher/internal/domain"
)

const userAddr = "0x56687Bf447db6fFa42FFe2204a05EDaA20F55839"

func TestTradeMessage_ToDomainTrades_MakerFills(t *testing.T) {
	msg := APITradeMessage{
		ID:              "trade-1",
		Market:          "0xmarket",
		MarketSlug:      "who-wins",
		MakerAddress:    "0xsomeoneelse",
		Status:          "matched",
		MatchTime:       "1700000000",
		TransactionHash: "0xhash",
		MakerOrders: []APIMakerOrder{
			{
				AssetID:       "asset-1",
				OrderID:       "order-a",
				MatchedAmount: "10",
				Price:         "0.40",
				FeeRateBps:    "100",
				MakerAddress:  userAddr,
				Side:          "buy",
				Outcome:       "Yes",
			},
			{
				AssetID:       "asset-2",
				OrderID:       "order-b",
				MatchedAmount: "5",
				Price:         "0.60",
				MakerAddress:  "0xsomeoneelse",
				Side:          "sell",
			},
		},
	}

	trades := msg.ToDomainTrades(userAddr, domain.OriginStream)
	require.Len(t, trades, 1, "only the account's own maker fills surface")

	got := trades[0]
	assert.Equal(t, "trade-1/order-a", got.ID)
	assert.Equal(t, "asset-1", got.AssetID)
	assert.Equal(t, "0xmarket", got.MarketID)
	assert.Equal(t, "who-wins", got.MarketSlug)
	assert.Equal(t, domain.SideBuy, got.Side)
	assert.Equal(t, domain.RoleMaker, got.Role)
	assert.Equal(t, domain.TradeStatusMatched, got.Status)
	assert.InDelta(t, 0.40, got.Price, 1e-9)
	assert.InDelta(t, 10.0, got.Size, 1e-9)
	assert.InDelta(t, 100.0, got.FeeRateBps, 1e-9)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got.MatchTime)
	assert.Equal(t, domain.OriginStream, got.Origin)
	assert.Equal(t, "0xhash", got.TxHash)
}

func TestTradeMessage_ToDomainTrades_TakerFill(t *testing.T) {
	msg := APITradeMessage{
		ID:           "trade-1",
		AssetID:      "asset-1",
		Market:       "0xmarket",
		MakerAddress: userAddr,
		Side:         "SELL",
		Price:        "0.70",
		Size:         "15",
		Status:       "CONFIRMED",
		LastUpdate:   "1700000100",
		MakerOrders: []APIMakerOrder{
			{AssetID: "asset-1", OrderID: "order-x", MakerAddress: "0xcounterparty", MatchedAmount: "15"},
		},
	}

	trades := msg.ToDomainTrades(userAddr, domain.OriginPoll)
	require.Len(t, trades, 1)

	got := trades[0]
	assert.Equal(t, "trade-1", got.ID)
	assert.Equal(t, domain.RoleTaker, got.Role)
	assert.Equal(t, domain.SideSell, got.Side)
	assert.Equal(t, domain.TradeStatusConfirmed, got.Status)
	assert.InDelta(t, 15.0, got.Size, 1e-9)
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), got.MatchTime, "last_update is the fallback timestamp")
}

func TestTradeMessage_ToDomainTrades_UnrelatedTrade(t *testing.T) {
	msg := APITradeMessage{
		ID:           "trade-1",
		MakerAddress: "0xsomeoneelse",
		Owner:        "0xanother",
	}
	assert.Nil(t, msg.ToDomainTrades(userAddr, domain.OriginStream))
}

func TestTradeMessage_AddressMatchIsCaseInsensitive(t *testing.T) {
	msg := APITradeMessage{
		ID:      "trade-1",
		AssetID: "asset-1",
		Owner:   "0X56687BF447DB6FFA42FFE2204A05EDAA20F55839",
		Side:    "BUY",
		Price:   "0.5",
		Size:    "1",
		Status:  "MATCHED",
	}
	assert.Len(t, msg.ToDomainTrades(userAddr, domain.OriginStream), 1)
}

func TestOrderMessage_ToDomainOrder(t *testing.T) {
	raw := `{
		"event_type": "order",
		"type": "UPDATE",
		"id": "order-1",
		"asset_id": "asset-1",
		"market": "0xmarket",
		"side": "buy",
		"original_size": "100",
		"size_matched": "40.5",
		"price": "0.55",
		"status": "LIVE",
		"associate_trades": ["t1", "t2"],
		"timestamp": "1700000000000"
	}`
	var msg APIOrderMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	got := msg.ToDomainOrder(domain.OriginStream)
	assert.Equal(t, "order-1", got.ID)
	assert.Equal(t, domain.SideBuy, got.Side)
	assert.Equal(t, domain.OrderStatusLive, got.Status)
	assert.InDelta(t, 100.0, got.OriginalSize, 1e-9)
	assert.InDelta(t, 40.5, got.SizeMatched, 1e-9)
	assert.InDelta(t, 0.55, got.Price, 1e-9)
	assert.Equal(t, []string{"t1", "t2"}, got.AssociateTrades)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got.CreatedAt)
}

func TestOrderMessage_CancellationOverridesStatus(t *testing.T) {
	msg := APIOrderMessage{ID: "order-1", Type: "CANCELLATION", Status: "LIVE"}
	got := msg.ToDomainOrder(domain.OriginStream)
	assert.Equal(t, domain.OrderStatusCanceled, got.Status)
}

func TestOrderMessage_EmptyStatusDefaultsToLive(t *testing.T) {
	msg := APIOrderMessage{ID: "order-1", Type: "PLACEMENT"}
	got := msg.ToDomainOrder(domain.OriginStream)
	assert.Equal(t, domain.OrderStatusLive, got.Status)
}

func TestMarket_ToDomainMarket(t *testing.T) {
	raw := `{
		"condition_id": "0xcond",
		"id": "12345",
		"slug": "who-wins",
		"question": "Who wins?",
		"outcomes": "[\"Yes\", \"No\"]",
		"active": "true",
		"closed": false
	}`
	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	got := m.ToDomainMarket()
	assert.Equal(t, "0xcond", got.ID)
	assert.Equal(t, "who-wins", got.Slug)
	assert.Equal(t, []string{"Yes", "No"}, got.Outcomes)
	assert.True(t, got.Active)
	assert.False(t, got.Closed)
}
