package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pinbar/polywatcher/internal/domain"
)

// TradeJournal implements domain.TradeJournal using PostgreSQL. Every
// applied trade is appended exactly once; re-deliveries of the same trade
// ID are skipped via ON CONFLICT DO NOTHING.
type TradeJournal struct {
	pool *pgxpool.Pool
}

// NewTradeJournal creates a TradeJournal backed by the given connection
// pool.
func NewTradeJournal(pool *pgxpool.Pool) *TradeJournal {
	return &TradeJournal{pool: pool}
}

// Append records one trade.
func (j *TradeJournal) Append(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trade_journal (
			trade_id, asset_id, market_id, market_slug, outcome,
			side, role, price, size, fee_rate_bps,
			status, match_time, origin, tx_hash
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		) ON CONFLICT (trade_id) DO NOTHING`

	_, err := j.pool.Exec(ctx, query,
		t.ID, t.AssetID, t.MarketID, t.MarketSlug, t.Outcome,
		string(t.Side), string(t.Role), t.Price, t.Size, t.FeeRateBps,
		string(t.Status), t.MatchTime, string(t.Origin), t.TxHash,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", t.ID, err)
	}
	return nil
}
