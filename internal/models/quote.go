package models

import "time"

// SymbolID identifies a tradeable instrument on a venue-neutral basis.
// Base/Quote are the asset pair legs (e.g. BTC/USDT); the id carries no
// venue, so one SymbolID names the symbol across all venues.
type SymbolID struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// String returns the canonical "BASEQUOTE" form used as a map key and
// in logs, e.g. "BTCUSDT".
func (s SymbolID) String() string {
	return s.Base + s.Quote
}

// Quote is a single top-of-book snapshot received from a venue adapter.
type Quote struct {
	Venue     string    `json:"venue"`
	Symbol    SymbolID  `json:"symbol"`
	BidPrice  float64   `json:"bid_price"`
	BidSize   float64   `json:"bid_size"`
	AskPrice  float64   `json:"ask_price"`
	AskSize   float64   `json:"ask_size"`
	Timestamp time.Time `json:"timestamp"`

	// Synthetic is true when the venue adapter had to derive bid/ask
	// from a last-trade price rather than receive them directly. Such
	// quotes update the quote table and the push surface but never
	// participate in signal emission.
	Synthetic bool `json:"synthetic"`
}

// Age returns how long ago the quote was observed.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Stale reports whether the quote is older than maxAge.
func (q Quote) Stale(now time.Time, maxAge time.Duration) bool {
	return q.Age(now) > maxAge
}
