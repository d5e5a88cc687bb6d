package domain

import "time"

// Side indicates whether a trade or order buys or sells the outcome token.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TraderRole indicates which side of the match the account was on. Taker
// trades may incur a fee; maker trades may receive a rebate.
type TraderRole string

const (
	RoleMaker TraderRole = "MAKER"
	RoleTaker TraderRole = "TAKER"
)

// TradeStatus tracks the settlement lifecycle of a trade as reported by the
// CLOB. Only CONFIRMED trades count toward on-chain sellable size.
type TradeStatus string

const (
	TradeStatusMatched   TradeStatus = "MATCHED"
	TradeStatusMined     TradeStatus = "MINED"
	TradeStatusConfirmed TradeStatus = "CONFIRMED"
	TradeStatusRetrying  TradeStatus = "RETRYING"
	TradeStatusFailed    TradeStatus = "FAILED"
)

// statusRank orders trade statuses so the store accepts only forward
// transitions. RETRYING sits between MINED and CONFIRMED because the CLOB
// re-submits a mined transaction before settling or failing it.
var statusRank = map[TradeStatus]int{
	TradeStatusMatched:   0,
	TradeStatusMined:     1,
	TradeStatusRetrying:  2,
	TradeStatusConfirmed: 3,
	TradeStatusFailed:    3,
}

// Advances reports whether moving from s to status "to" is a forward
// transition in the settlement lifecycle.
func (s TradeStatus) Advances(to TradeStatus) bool {
	return statusRank[to] > statusRank[s]
}

// EventOrigin records which ingestion path produced an event.
type EventOrigin string

const (
	OriginStream   EventOrigin = "stream"
	OriginPoll     EventOrigin = "poll"
	OriginSnapshot EventOrigin = "snapshot"
)

// Trade is a normalized trade event from either the user websocket channel
// or the HTTP backfill path. It is immutable once created; the trade ID is
// the identity key used for deduplication.
type Trade struct {
	ID         string
	AssetID    string
	MarketID   string
	MarketSlug string
	Outcome    string
	Side       Side
	Role       TraderRole
	Price      float64
	Size       float64
	FeeRateBps float64
	Status     TradeStatus
	MatchTime  time.Time
	Origin     EventOrigin
	TxHash     string
}
