package persistence

import (
	"sync"
	"time"

	"spotarb/pkg/utils"
)

type feeKey struct {
	Venue  string
	Symbol string
}

// FeeCache satisfies detect.FeeProvider and execute's fee lookups with an
// in-memory read path, so the detection hot path never blocks on a
// database round trip per quote. Reload loads the whole cache from the
// fees table; Set updates one entry and writes it through to that table.
type FeeCache struct {
	mu       sync.RWMutex
	fees     map[feeKey]float64
	store    *Store
	logger   *utils.Logger
	fallback float64
}

// NewFeeCache builds a cache with defaultTaker returned for any
// venue/symbol not yet loaded from the database.
func NewFeeCache(store *Store, defaultTaker float64) *FeeCache {
	return &FeeCache{
		fees:     make(map[feeKey]float64),
		store:    store,
		logger:   utils.L().WithComponent("fee_cache"),
		fallback: defaultTaker,
	}
}

// TakerFee returns the cached taker fee fraction for venue/symbol, or the
// configured default when unknown.
func (c *FeeCache) TakerFee(venue, symbol string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.fees[feeKey{Venue: venue, Symbol: symbol}]; ok {
		return f
	}
	return c.fallback
}

// Set updates one venue/symbol's taker fee in memory and persists it.
func (c *FeeCache) Set(venue, symbol string, taker float64) {
	c.mu.Lock()
	c.fees[feeKey{Venue: venue, Symbol: symbol}] = taker
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	ctx, cancel := c.store.ctx(nil)
	defer cancel()
	if _, err := c.store.db.ExecContext(ctx, `
		INSERT INTO fees (venue, symbol, taker_fee, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (venue, symbol) DO UPDATE SET taker_fee = EXCLUDED.taker_fee, updated_at = EXCLUDED.updated_at`,
		venue, symbol, taker, time.Now()); err != nil {
		c.logger.Warn("fee persist failed", utils.String("venue", venue), utils.String("symbol", symbol), utils.Err(err))
	}
}

// Reload refreshes the in-memory cache from the fees table.
func (c *FeeCache) Reload() error {
	if c.store == nil {
		return nil
	}
	ctx, cancel := c.store.ctx(nil)
	defer cancel()

	var rows []struct {
		Venue    string  `db:"venue"`
		Symbol   string  `db:"symbol"`
		TakerFee float64 `db:"taker_fee"`
	}
	if err := c.store.db.SelectContext(ctx, &rows, `SELECT venue, symbol, taker_fee FROM fees`); err != nil {
		return err
	}

	next := make(map[feeKey]float64, len(rows))
	for _, r := range rows {
		next[feeKey{Venue: r.Venue, Symbol: r.Symbol}] = r.TakerFee
	}

	c.mu.Lock()
	c.fees = next
	c.mu.Unlock()
	return nil
}
