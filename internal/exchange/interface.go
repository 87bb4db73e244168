package exchange

import (
	"context"
	"time"

	"spotarb/internal/models"
)

// Exchange is the unified spot-market capability surface every venue
// adapter implements (connect_stream, disconnect_stream, fetch_ticker,
// fetch_orderbook, place_order, cancel_order, query_order, fetch_balances,
// fetch_fees, list_symbols, list_24h_tickers). One struct implementation
// per venue, registered in factory.go — no duck typing.
type Exchange interface {
	// Name returns the venue identifier used as the map key everywhere
	// (quote table, fee cache, balance cache).
	Name() string

	// ConnectStream opens the venue's market-data WebSocket and
	// subscribes to top-of-book updates for symbols, in subscribe frames
	// sized by each adapter's own batch-size constant. Quotes arrive on
	// the channel returned by Quotes.
	ConnectStream(ctx context.Context, symbols []string) error

	// DisconnectStream closes the market-data connection. Safe to call
	// on an adapter that was never connected.
	DisconnectStream() error

	// Quotes returns the channel of top-of-book updates. Adapters never
	// close it; DisconnectStream stops delivery by cancelling the stream
	// context.
	Quotes() <-chan *models.Quote

	// FetchTicker polls the REST best-bid/ask for symbol, used for
	// adapters without a streaming ticker and for startup snapshots.
	FetchTicker(ctx context.Context, symbol string) (*models.Quote, error)

	// FetchOrderBook polls the REST order book to the given depth.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	// PlaceOrder submits a market order and returns the venue's
	// acknowledgement (NEW or immediately FILLED/REJECTED).
	PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error)

	// CancelOrder best-effort cancels a still-open order.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// QueryOrder polls an order's current fill state.
	QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error)

	// FetchBalances returns free/locked balances for every asset held.
	FetchBalances(ctx context.Context) ([]models.Balance, error)

	// FetchFees returns the venue's taker/maker schedule for symbol.
	FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error)

	// ListSymbols enumerates every tradable symbol, translated to the
	// canonical "BASEQUOTE" form.
	ListSymbols(ctx context.Context) ([]string, error)

	// List24hTickers returns a snapshot ticker for every symbol in one
	// call, used by the Symbol Universe Service to seed the quote table.
	List24hTickers(ctx context.Context) ([]*models.Quote, error)

	// Close tears down REST and stream resources.
	Close() error
}

// OrderBook is a venue-wire order book snapshot.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// PriceLevel is a single price/volume level of an OrderBook side.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Limits are the venue's trading constraints for a symbol. No adapter
// fills them in, and the executor does not consult them when sizing.
type Limits struct {
	Symbol      string  `json:"symbol"`
	MinOrderQty float64 `json:"min_order_qty"`
	MaxOrderQty float64 `json:"max_order_qty"`
	QtyStep     float64 `json:"qty_step"`
	MinNotional float64 `json:"min_notional"`
	PriceStep   float64 `json:"price_step"`
}

// Error wraps a venue-reported failure so callers can recover the
// original error via errors.Unwrap while logging the venue/code.
type Error struct {
	Venue    string
	Code     string
	Message  string
	Original error
}

func (e *Error) Error() string {
	return e.Venue + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Original
}

// Order side constants, matching models.SideBuy/SideSell.
const (
	SideBuy  = models.SideBuy
	SideSell = models.SideSell
)
