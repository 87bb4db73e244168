package persistence

import (
	"context"
	"fmt"
	"time"

	"spotarb/internal/models"
)

// UpsertBalance records the latest known free/locked balance for one
// venue/asset pair, replacing any prior row (balances are a point-in-time
// snapshot, not a ledger).
func (s *Store) UpsertBalance(b models.Balance) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balances (venue, asset, free, locked, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (venue, asset) DO UPDATE SET
			free = EXCLUDED.free,
			locked = EXCLUDED.locked,
			updated_at = EXCLUDED.updated_at
		WHERE balances.updated_at <= EXCLUDED.updated_at`,
		b.Venue, b.Asset, b.Free, b.Locked, b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("persistence: upsert balance: %w", err)
	}
	return nil
}

// Balances returns every known balance row.
func (s *Store) Balances(ctx context.Context) ([]models.Balance, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var out []models.Balance
	if err := s.db.SelectContext(ctx, &out, `SELECT venue, asset, free, locked, updated_at FROM balances`); err != nil {
		return nil, fmt.Errorf("persistence: select balances: %w", err)
	}
	return out, nil
}

// CleanupSupersededBalances deletes balance rows whose free and locked
// amounts are both zero and that have not been updated within olderThan,
// returning the number of rows removed. UpsertBalance's ON CONFLICT keeps
// exactly one row per (venue, asset), so there are no older duplicate rows
// to remove; this sweep only clears emptied balances for the hourly
// cleanup task (§4.8).
func (s *Store) CleanupSupersededBalances(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM balances WHERE updated_at < NOW() - make_interval(secs => $1) AND free = 0 AND locked = 0`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("persistence: cleanup balances: %w", err)
	}
	return result.RowsAffected()
}
