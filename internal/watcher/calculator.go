package watcher

import (
	"math"

	"github.com/pinbar/polywatcher/internal/domain"
)

// eps is the float-noise threshold for lot sizes. Upstream sizes are decimal
// strings with sub-cent rounding; anything below eps is a ghost quantity.
const eps = 0.01

// clean snaps values within eps of zero to exactly zero.
func clean(x float64) float64 {
	if math.Abs(x) < eps {
		return 0
	}
	return x
}

// lotQueue is the FIFO queue of open accounting lots for one asset. Buys
// append to the back; sells consume from the front, oldest first. An
// oversell pushes a negative lot at the sell price, so the queue can
// represent a short position.
type lotQueue struct {
	lots []domain.Lot
}

// buy appends a new lot.
func (q *lotQueue) buy(price, size float64) {
	if size <= 0 {
		return
	}
	q.lots = append(q.lots, domain.Lot{Price: price, Size: size})
}

// sell consumes lots from the front of the queue and returns the realized
// PnL of the consumed quantity. Any unmatched remainder opens a short lot
// at the sell price.
func (q *lotQueue) sell(price, size float64) float64 {
	var realized float64
	rest := clean(size)

	for rest > eps && len(q.lots) > 0 {
		lot := q.lots[0]
		if lot.Size <= rest+eps {
			realized += (price - lot.Price) * lot.Size
			rest -= lot.Size
			q.lots = q.lots[1:]
		} else {
			realized += (price - lot.Price) * rest
			q.lots[0].Size = clean(lot.Size - rest)
			rest = 0
		}
	}

	if rest > eps {
		q.lots = append([]domain.Lot{{Price: price, Size: -rest}}, q.lots...)
	}

	return realized
}

// totals returns the open size and weighted average price over the
// remaining lots. A ghost position below eps collapses to an empty queue.
func (q *lotQueue) totals() (size, avgPrice float64) {
	var costBasis float64
	for _, lot := range q.lots {
		size += lot.Size
		costBasis += clean(lot.Size) * lot.Price
	}

	size = clean(size)
	if math.Abs(size) < eps {
		q.lots = nil
		return 0, 0
	}
	return size, clean(costBasis) / size
}

// snapshot copies the open lots for external inspection.
func (q *lotQueue) snapshot() []domain.Lot {
	out := make([]domain.Lot, len(q.lots))
	copy(out, q.lots)
	return out
}

// calculator applies fee-adjusted trade events to a position and its lot
// queue. It owns no locking; the store serializes calls.
type calculator struct {
	feeEnabled bool
	feeFn      FeeFunc
}

func newCalculator(feeEnabled bool, feeFn FeeFunc) *calculator {
	if feeFn == nil {
		feeFn = DefaultFee
	}
	return &calculator{feeEnabled: feeEnabled, feeFn: feeFn}
}

// adjustedSize returns the trade size net of fees. Fees apply only when fee
// calculation is enabled, the account took liquidity, and the trade carries
// a positive fee rate.
func (c *calculator) adjustedSize(t domain.Trade) float64 {
	if !c.feeEnabled || t.Role != domain.RoleTaker || t.FeeRateBps <= 0 {
		return t.Size
	}
	return c.feeFn(t.Size, t.Price, t.FeeRateBps)
}

// apply mutates pos and lots for one trade event whose adjusted size has
// already been computed. FAILED trades must not reach this method; the
// store short-circuits them into failure bookkeeping.
func (c *calculator) apply(pos *domain.Position, lots *lotQueue, t domain.Trade, adjSize float64) {
	switch t.Side {
	case domain.SideBuy:
		lots.buy(t.Price, adjSize)
		pos.Volume += adjSize
		if t.Status == domain.TradeStatusConfirmed {
			pos.SellableSize += adjSize
		}
	case domain.SideSell:
		pos.RealizedPnL += lots.sell(t.Price, adjSize)
		pos.Volume += adjSize
		pos.SellableSize = clean(pos.SellableSize - adjSize)
		if pos.SellableSize < 0 {
			pos.SellableSize = 0
		}
	}

	pos.Size, pos.Price = lots.totals()
	if t.MatchTime.After(pos.LastUpdate) {
		pos.LastUpdate = t.MatchTime
	}
}
