package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"spotarb/internal/models"
)

// InsertQuotesBatch satisfies quotes.Persister. It runs one
// multi-row INSERT per batch inside a transaction, generalized from
// order_repository.go's single-row QueryRow/Exec pattern to the quote
// hot path's batched writes (§4.8: "the hot path writes quotes via
// batch insert").
func (s *Store) InsertQuotesBatch(quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	ctx, cancel := s.ctx(nil)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persistence: begin quotes batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO quotes (venue, symbol, bid_price, bid_size, ask_price, ask_size, synthetic, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("persistence: prepare quotes batch: %w", err)
	}
	defer stmt.Close()

	for _, q := range quotes {
		if _, err := stmt.ExecContext(ctx, q.Venue, q.Symbol.String(), q.BidPrice, q.BidSize, q.AskPrice, q.AskSize, q.Synthetic, q.Timestamp); err != nil {
			return fmt.Errorf("persistence: insert quote: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persistence: commit quotes batch: %w", err)
	}
	return nil
}

type quoteRow struct {
	Venue     string    `db:"venue"`
	Symbol    string    `db:"symbol"`
	BidPrice  float64   `db:"bid_price"`
	BidSize   float64   `db:"bid_size"`
	AskPrice  float64   `db:"ask_price"`
	AskSize   float64   `db:"ask_size"`
	Synthetic bool      `db:"synthetic"`
	Timestamp time.Time `db:"timestamp"`
}

// LoadQuotes returns persisted quotes for the given venues/symbols within
// [from, to], ordered by timestamp ascending — the Backtester's replay
// feed when backtest.data_source is "database" (§4.9).
func (s *Store) LoadQuotes(ctx context.Context, venues, symbols []string, from, to time.Time) ([]models.Quote, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	query, args, err := sqlx.In(`
		SELECT venue, symbol, bid_price, bid_size, ask_price, ask_size, synthetic, timestamp
		FROM quotes
		WHERE venue IN (?) AND symbol IN (?) AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`, venues, symbols, from, to)
	if err != nil {
		return nil, fmt.Errorf("persistence: build load quotes query: %w", err)
	}
	query = s.db.Rebind(query)

	var rows []quoteRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("persistence: load quotes: %w", err)
	}

	out := make([]models.Quote, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Quote{
			Venue:     r.Venue,
			Symbol:    symbolFromString(r.Symbol),
			BidPrice:  r.BidPrice,
			BidSize:   r.BidSize,
			AskPrice:  r.AskPrice,
			AskSize:   r.AskSize,
			Synthetic: r.Synthetic,
			Timestamp: r.Timestamp,
		})
	}
	return out, nil
}

// CleanupQuotesOlderThan deletes quotes with timestamp before cutoff,
// returning the number of rows removed (§4.8 retention cleanup).
func (s *Store) CleanupQuotesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("persistence: cleanup quotes: %w", err)
	}
	return result.RowsAffected()
}

// symbolFromString splits a "BASEQUOTE" string back into SymbolID by
// matching a fixed list of quote suffixes (USDT, USDC, BTC, ETH, USD, in
// that order), since the stored column has already lost the base/quote
// boundary. The list is local to this function and differs from
// pkg/utils' known quote currencies.
func symbolFromString(s string) models.SymbolID {
	for _, q := range []string{"USDT", "USDC", "BTC", "ETH", "USD"} {
		if len(s) > len(q) && s[len(s)-len(q):] == q {
			return models.SymbolID{Base: s[:len(s)-len(q)], Quote: q}
		}
	}
	return models.SymbolID{Base: s}
}
