package domain

import "time"

// Lot is one FIFO accounting unit of a position: the price and remaining
// size of a single fill, ordered by creation time. A negative size marks a
// short lot opened by an oversell.
type Lot struct {
	Price float64
	Size  float64
}

// Position is the aggregated state of one outcome token. Price is the
// weighted average over the remaining open lots, or 0 when Size is 0.
type Position struct {
	AssetID      string
	Price        float64
	Size         float64
	SellableSize float64
	Volume       float64
	RealizedPnL  float64
	LastUpdate   time.Time
	MarketID     string
	MarketSlug   string
	Outcome      string
	CreatedAt    time.Time
	HasFailed    bool
	FailedTrades []string
}

// UnrealizedPnL values the open size at the given mark price against the
// average cost. The watcher does not source market prices itself; callers
// supply the mark.
func (p Position) UnrealizedPnL(markPrice float64) float64 {
	return (markPrice - p.Price) * p.Size
}

// Notional returns the cost basis of the open size.
func (p Position) Notional() float64 {
	return p.Price * p.Size
}
