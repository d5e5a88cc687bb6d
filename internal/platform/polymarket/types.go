package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pinbar/polywatcher/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// parseFloat converts the CLOB's decimal strings; malformed values become 0
// rather than failing the whole frame.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseUnixSeconds converts an epoch-seconds string, empty on failure.
func parseUnixSeconds(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}

// parseUnixMillis converts an epoch-milliseconds string, empty on failure.
func parseUnixMillis(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

// --------------------------------------------------------------------------
// CLOB user-channel / trade-history DTOs
// --------------------------------------------------------------------------

// APIMakerOrder is one maker fill inside a trade payload.
type APIMakerOrder struct {
	AssetID       string `json:"asset_id"`
	MatchedAmount string `json:"matched_amount"`
	OrderID       string `json:"order_id"`
	Outcome       string `json:"outcome"`
	Owner         string `json:"owner"`
	Price         string `json:"price"`
	FeeRateBps    string `json:"fee_rate_bps"`
	MakerAddress  string `json:"maker_address"`
	Side          string `json:"side"`
}

// APITradeMessage is a trade as delivered by both the user websocket
// channel and the /data/trades endpoint. All numerics arrive as strings.
type APITradeMessage struct {
	EventType       string          `json:"event_type"`
	Type            string          `json:"type"`
	ID              string          `json:"id"`
	AssetID         string          `json:"asset_id"`
	Market          string          `json:"market"`
	MarketSlug      string          `json:"market_slug"`
	MakerAddress    string          `json:"maker_address"`
	Owner           string          `json:"owner"`
	MakerOrders     []APIMakerOrder `json:"maker_orders"`
	Outcome         string          `json:"outcome"`
	Price           string          `json:"price"`
	Side            string          `json:"side"`
	Size            string          `json:"size"`
	Status          string          `json:"status"`
	TakerOrderID    string          `json:"taker_order_id"`
	MatchTime       string          `json:"match_time"`
	LastUpdate      string          `json:"last_update"`
	Timestamp       string          `json:"timestamp"`
	FeeRateBps      string          `json:"fee_rate_bps"`
	TransactionHash string          `json:"transaction_hash"`
}

// matchTime resolves the event timestamp, preferring match_time and falling
// back to last_update.
func (m *APITradeMessage) matchTime() time.Time {
	if ts := parseUnixSeconds(m.MatchTime); !ts.IsZero() {
		return ts
	}
	return parseUnixSeconds(m.LastUpdate)
}

// ToDomainTrades extracts the account's fills from a trade payload. A trade
// the account made as maker surfaces once per matching maker order with a
// composite identity key (trade ID / maker order ID) so each slice
// deduplicates independently; otherwise the taker fill surfaces under the
// trade ID itself.
func (m *APITradeMessage) ToDomainTrades(userAddress string, origin domain.EventOrigin) []domain.Trade {
	ts := m.matchTime()
	status := domain.TradeStatus(strings.ToUpper(m.Status))

	var trades []domain.Trade
	for _, o := range m.MakerOrders {
		if !strings.EqualFold(o.MakerAddress, userAddress) {
			continue
		}
		trades = append(trades, domain.Trade{
			ID:         m.ID + "/" + o.OrderID,
			AssetID:    o.AssetID,
			MarketID:   m.Market,
			MarketSlug: m.MarketSlug,
			Outcome:    o.Outcome,
			Side:       domain.Side(strings.ToUpper(o.Side)),
			Role:       domain.RoleMaker,
			Price:      parseFloat(o.Price),
			Size:       parseFloat(o.MatchedAmount),
			FeeRateBps: parseFloat(o.FeeRateBps),
			Status:     status,
			MatchTime:  ts,
			Origin:     origin,
			TxHash:     m.TransactionHash,
		})
	}
	if len(trades) > 0 {
		return trades
	}

	if !strings.EqualFold(m.MakerAddress, userAddress) && !strings.EqualFold(m.Owner, userAddress) {
		return nil
	}
	return []domain.Trade{{
		ID:         m.ID,
		AssetID:    m.AssetID,
		MarketID:   m.Market,
		MarketSlug: m.MarketSlug,
		Outcome:    m.Outcome,
		Side:       domain.Side(strings.ToUpper(m.Side)),
		Role:       domain.RoleTaker,
		Price:      parseFloat(m.Price),
		Size:       parseFloat(m.Size),
		FeeRateBps: parseFloat(m.FeeRateBps),
		Status:     status,
		MatchTime:  ts,
		Origin:     origin,
		TxHash:     m.TransactionHash,
	}}
}

// APIOrderMessage is an order event from the user channel (PLACEMENT,
// UPDATE, CANCELLATION) or an order snapshot from /data/order.
type APIOrderMessage struct {
	EventType       string   `json:"event_type"`
	Type            string   `json:"type"`
	ID              string   `json:"id"`
	AssetID         string   `json:"asset_id"`
	Market          string   `json:"market"`
	MarketSlug      string   `json:"market_slug"`
	AssociateTrades []string `json:"associate_trades"`
	OriginalSize    string   `json:"original_size"`
	SizeMatched     string   `json:"size_matched"`
	Price           string   `json:"price"`
	Side            string   `json:"side"`
	Status          string   `json:"status"`
	Timestamp       string   `json:"timestamp"`
	CreatedAt       string   `json:"created_at"`
}

// ToDomainOrder converts an order payload into the tracked order shape.
func (m *APIOrderMessage) ToDomainOrder(origin domain.EventOrigin) domain.Order {
	status := domain.OrderStatus(strings.ToUpper(m.Status))
	if strings.EqualFold(m.Type, "CANCELLATION") {
		status = domain.OrderStatusCanceled
	}
	if status == "" {
		status = domain.OrderStatusLive
	}

	return domain.Order{
		ID:              m.ID,
		AssetID:         m.AssetID,
		MarketID:        m.Market,
		MarketSlug:      m.MarketSlug,
		Side:            domain.Side(strings.ToUpper(m.Side)),
		OriginalSize:    parseFloat(m.OriginalSize),
		SizeMatched:     parseFloat(m.SizeMatched),
		Price:           parseFloat(m.Price),
		Status:          status,
		AssociateTrades: m.AssociateTrades,
		Origin:          origin,
		CreatedAt:       parseUnixMillis(m.Timestamp),
	}
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIPosition is one row of the data API /positions response. Unlike the
// CLOB, the data API sends JSON numbers.
type APIPosition struct {
	Asset        string  `json:"asset"`
	ConditionID  string  `json:"conditionId"`
	Size         float64 `json:"size"`
	AvgPrice     float64 `json:"avgPrice"`
	CurrentValue float64 `json:"currentValue"`
	CurPrice     float64 `json:"curPrice"`
	Title        string  `json:"title"`
	Outcome      string  `json:"outcome"`
	Slug         string  `json:"slug"`
	Redeemable   bool    `json:"redeemable"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	Slug          string   `json:"slug"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"` // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	Description   string   `json:"description"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

// ToDomainMarket converts an APIMarket to a domain.Market.
func (a *APIMarket) ToDomainMarket() domain.Market {
	m := domain.Market{
		ID:       a.ID,
		Slug:     a.Slug,
		Question: a.Question,
		Active:   bool(a.ActiveFromAPI),
		Closed:   a.Closed,
	}
	if a.ConditionID != "" {
		m.ID = a.ConditionID
	}
	// Outcomes arrive double-encoded; a decode failure just leaves them empty.
	_ = json.Unmarshal([]byte(a.Outcomes), &m.Outcomes)
	return m
}

// --------------------------------------------------------------------------
// WebSocket subscription command
// --------------------------------------------------------------------------

// wsAuth is the credential envelope of the user-channel subscribe message.
type wsAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// wsSubscribe is the first frame sent after connecting to /ws/user. An
// empty markets list subscribes to all of the account's markets.
type wsSubscribe struct {
	Auth    wsAuth   `json:"auth"`
	Type    string   `json:"type"` // always "USER"
	Markets []string `json:"markets"`
}
