package domain

import "time"

// OrderStatus tracks the order lifecycle on the CLOB.
type OrderStatus string

const (
	OrderStatusLive      OrderStatus = "LIVE"
	OrderStatusMatched   OrderStatus = "MATCHED"
	OrderStatusDelayed   OrderStatus = "DELAYED"
	OrderStatusUnmatched OrderStatus = "UNMATCHED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
)

// fillTolerance is the slack allowed between matched and original size when
// deciding whether an order is completely filled. Sizes arrive as decimal
// strings with sub-unit rounding, so exact equality is unreliable.
const fillTolerance = 0.5

// Order is the tracked state of a single CLOB order. Records are never
// deleted, only updated in place by applying order events.
type Order struct {
	ID              string
	AssetID         string
	MarketID        string
	MarketSlug      string
	Side            Side
	OriginalSize    float64
	SizeMatched     float64
	Price           float64
	Status          OrderStatus
	AssociateTrades []string
	Filled          bool
	Origin          EventOrigin
	CreatedAt       time.Time
}

// IsFilled reports whether the matched size has reached the original size
// within the fill tolerance.
func (o Order) IsFilled() bool {
	diff := o.OriginalSize - o.SizeMatched
	if diff < 0 {
		diff = -diff
	}
	return o.OriginalSize > 0 && diff < fillTolerance
}
