package persistence

import (
	"fmt"

	"spotarb/internal/models"
)

// SaveTrade satisfies execute.Recorder. It upserts the trade summary row
// and (re)inserts a leg row per TradeLeg, mirroring the teacher's
// OrderRepository.Create/UpdateStatus pattern but generalized to a single
// call since the Executor hands over the whole TradeRuntime at once
// rather than one order at a time.
func (s *Store) SaveTrade(trade *models.TradeRuntime) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin save trade: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trades (signal_id, symbol, state, realized_pnl, unrealized_pnl, entry_time, last_update)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (signal_id) DO UPDATE SET
			state = EXCLUDED.state,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			entry_time = EXCLUDED.entry_time,
			last_update = EXCLUDED.last_update`,
		trade.SignalID, trade.Symbol, trade.State, trade.RealizedPnl, trade.UnrealizedPnl, trade.EntryTime, trade.LastUpdate)
	if err != nil {
		return fmt.Errorf("persistence: upsert trade: %w", err)
	}

	for _, leg := range trade.Legs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO orders (signal_id, venue, symbol, side, type, quantity, price_avg, status, exchange_id, created_at)
			VALUES ($1, $2, $3, $4, 'market', $5, $6, $7, $8, NOW())`,
			trade.SignalID, leg.Venue, trade.Symbol, leg.Side, leg.Quantity, leg.EntryPrice, models.OrderStatusFilled, leg.OrderID)
		if err != nil {
			return fmt.Errorf("persistence: insert leg order: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit save trade: %w", err)
	}
	return nil
}

// SaveOpportunity persists a detected arbitrage opportunity — the audit
// trail a detection emits before (and regardless of whether) the
// Executor acts on it — and returns the inserted row's id so the caller
// can later flag it executed via MarkOpportunityExecuted.
func (s *Store) SaveOpportunity(sig models.ArbitrageSignal) (int64, error) {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO opportunities (symbol, buy_venue, sell_venue, buy_price, sell_price, buy_size, sell_size, gross_profit_pct, net_profit_pct, confidence, is_premium_outlier, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		sig.Symbol, sig.BuyVenue, sig.SellVenue, sig.BuyPrice, sig.SellPrice, sig.BuySize, sig.SellSize,
		sig.GrossProfitPct, sig.NetProfitPct, sig.Confidence, sig.IsPremiumOutlier, sig.Timestamp).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("persistence: insert opportunity: %w", err)
	}
	return id, nil
}

// MarkOpportunityExecuted flags whether the Executor actually acted on
// a persisted opportunity, once Execute returns.
func (s *Store) MarkOpportunityExecuted(id int64, executed bool) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `UPDATE opportunities SET executed = $2 WHERE id = $1`, id, executed)
	if err != nil {
		return fmt.Errorf("persistence: mark opportunity executed: %w", err)
	}
	return nil
}
