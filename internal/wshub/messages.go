package wshub

import (
	"time"

	"spotarb/internal/models"
)

// MessageType identifies the payload carried by a wshub frame.
type MessageType string

const (
	// MessageTypeQuote pushes one venue's latest top-of-book for a symbol.
	// Sent for every quote an adapter emits, alongside handing it to the
	// Quote Router (§4.2).
	MessageTypeQuote MessageType = "quote"

	// MessageTypeSignal pushes a newly detected arbitrage opportunity,
	// before execution is attempted (§4.3).
	MessageTypeSignal MessageType = "signal"

	// MessageTypeTrade pushes a trade's lifecycle state, from entering
	// through settled or error (§4.6).
	MessageTypeTrade MessageType = "trade"

	// MessageTypeNotification pushes a risk/executor event (open, close,
	// refusal, error) for an external dashboard's activity feed.
	MessageTypeNotification MessageType = "notification"

	// MessageTypeBalance pushes one venue's balance snapshot.
	MessageTypeBalance MessageType = "balance"
)

// BaseMessage is embedded by every typed wshub message.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// QuoteMessage mirrors one models.Quote update.
type QuoteMessage struct {
	BaseMessage
	Data *QuoteData `json:"data"`
}

// QuoteData is the wire shape of a quote push.
type QuoteData struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	BidPrice  float64 `json:"bid_price"`
	BidSize   float64 `json:"bid_size"`
	AskPrice  float64 `json:"ask_price"`
	AskSize   float64 `json:"ask_size"`
	Synthetic bool    `json:"synthetic"`
}

// NewQuoteMessage builds a QuoteMessage from a live quote.
func NewQuoteMessage(q *models.Quote) *QuoteMessage {
	return &QuoteMessage{
		BaseMessage: BaseMessage{Type: MessageTypeQuote, Timestamp: q.Timestamp},
		Data: &QuoteData{
			Venue:     q.Venue,
			Symbol:    q.Symbol.String(),
			BidPrice:  q.BidPrice,
			BidSize:   q.BidSize,
			AskPrice:  q.AskPrice,
			AskSize:   q.AskSize,
			Synthetic: q.Synthetic,
		},
	}
}

// SignalMessage mirrors one models.ArbitrageSignal.
type SignalMessage struct {
	BaseMessage
	Data *SignalData `json:"data"`
}

// SignalData is the wire shape of a signal push.
type SignalData struct {
	Symbol           string  `json:"symbol"`
	BuyVenue         string  `json:"buy_venue"`
	SellVenue        string  `json:"sell_venue"`
	BuyPrice         float64 `json:"buy_price"`
	SellPrice        float64 `json:"sell_price"`
	GrossProfitPct   float64 `json:"gross_profit_pct"`
	NetProfitPct     float64 `json:"net_profit_pct"`
	Confidence       float64 `json:"confidence"`
	IsPremiumOutlier bool    `json:"is_premium_outlier"`
}

// NewSignalMessage builds a SignalMessage from a detected signal.
func NewSignalMessage(sig *models.ArbitrageSignal) *SignalMessage {
	return &SignalMessage{
		BaseMessage: BaseMessage{Type: MessageTypeSignal, Timestamp: sig.Timestamp},
		Data: &SignalData{
			Symbol:           sig.Symbol,
			BuyVenue:         sig.BuyVenue,
			SellVenue:        sig.SellVenue,
			BuyPrice:         sig.BuyPrice,
			SellPrice:        sig.SellPrice,
			GrossProfitPct:   sig.GrossProfitPct,
			NetProfitPct:     sig.NetProfitPct,
			Confidence:       sig.Confidence,
			IsPremiumOutlier: sig.IsPremiumOutlier,
		},
	}
}

// TradeMessage mirrors one models.TradeRuntime's current lifecycle state.
type TradeMessage struct {
	BaseMessage
	Data *TradeData `json:"data"`
}

// TradeData is the wire shape of a trade push.
type TradeData struct {
	SignalID      int       `json:"signal_id"`
	Symbol        string    `json:"symbol"`
	State         string    `json:"state"`
	RealizedPnl   float64   `json:"realized_pnl"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	Legs          []LegData `json:"legs,omitempty"`
}

// LegData is one leg of a trade push.
type LegData struct {
	Venue         string  `json:"venue"`
	Side          string  `json:"side"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	Quantity      float64 `json:"quantity"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
}

// NewTradeMessage builds a TradeMessage from a trade's current runtime state.
func NewTradeMessage(t *models.TradeRuntime) *TradeMessage {
	data := &TradeData{
		SignalID:      t.SignalID,
		Symbol:        t.Symbol,
		State:         t.State,
		RealizedPnl:   t.RealizedPnl,
		UnrealizedPnl: t.UnrealizedPnl,
	}
	if len(t.Legs) > 0 {
		data.Legs = make([]LegData, len(t.Legs))
		for i, leg := range t.Legs {
			data.Legs[i] = LegData{
				Venue:         leg.Venue,
				Side:          leg.Side,
				EntryPrice:    leg.EntryPrice,
				CurrentPrice:  leg.CurrentPrice,
				Quantity:      leg.Quantity,
				UnrealizedPnl: leg.UnrealizedPnl,
			}
		}
	}
	return &TradeMessage{
		BaseMessage: BaseMessage{Type: MessageTypeTrade, Timestamp: t.LastUpdate},
		Data:        data,
	}
}

// NotificationMessage mirrors one models.Notification.
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData is the wire shape of a notification push.
type NotificationData struct {
	ID       int                    `json:"id"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity"`
	SignalID *int                   `json:"signal_id,omitempty"`
	Message  string                 `json:"message"`
	Meta     map[string]interface{} `json:"meta,omitempty"`
}

// NewNotificationMessage builds a NotificationMessage from a notification.
func NewNotificationMessage(n *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{Type: MessageTypeNotification, Timestamp: n.Timestamp},
		Data: &NotificationData{
			ID:       n.ID,
			Type:     n.Type,
			Severity: n.Severity,
			SignalID: n.SignalID,
			Message:  n.Message,
			Meta:     n.Meta,
		},
	}
}

// BalanceMessage mirrors one venue's balance snapshot.
type BalanceMessage struct {
	BaseMessage
	Data *BalanceData `json:"data"`
}

// BalanceData is the wire shape of a balance push.
type BalanceData struct {
	Venue string  `json:"venue"`
	Asset string  `json:"asset"`
	Free  float64 `json:"free"`
	Total float64 `json:"total"`
}

// NewBalanceMessage builds a BalanceMessage from a balance.
func NewBalanceMessage(b *models.Balance) *BalanceMessage {
	return &BalanceMessage{
		BaseMessage: BaseMessage{Type: MessageTypeBalance, Timestamp: b.UpdatedAt},
		Data: &BalanceData{
			Venue: b.Venue,
			Asset: b.Asset,
			Free:  b.Free,
			Total: b.Total(),
		},
	}
}
