package persistence

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/models"
)

func TestSaveTrade_Success(t *testing.T) {
	store, mock := newTestStore(t)

	entry := time.Now()
	trade := &models.TradeRuntime{
		SignalID:    7,
		Symbol:      "BTCUSDT",
		State:       models.StateSettled,
		RealizedPnl: 12.5,
		EntryTime:   &entry,
		LastUpdate:  entry,
		Legs: []models.TradeLeg{
			{Venue: "bybit", Side: models.SideBuy, EntryPrice: 60000, Quantity: 0.01, OrderID: "abc"},
			{Venue: "okx", Side: models.SideSell, EntryPrice: 60100, Quantity: 0.01, OrderID: "def"},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO trades`).WithArgs(
		trade.SignalID, trade.Symbol, trade.State, trade.RealizedPnl, trade.UnrealizedPnl, trade.EntryTime, trade.LastUpdate,
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO orders`).WithArgs(
		trade.SignalID, "bybit", "BTCUSDT", models.SideBuy, 0.01, 60000.0, models.OrderStatusFilled, "abc",
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO orders`).WithArgs(
		trade.SignalID, "okx", "BTCUSDT", models.SideSell, 0.01, 60100.0, models.OrderStatusFilled, "def",
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.SaveTrade(trade)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOpportunity(t *testing.T) {
	store, mock := newTestStore(t)

	sig := models.ArbitrageSignal{
		Symbol: "ETHUSDT", BuyVenue: "gate", SellVenue: "htx",
		BuyPrice: 3000, SellPrice: 3015, BuySize: 1, SellSize: 1,
		GrossProfitPct: 0.5, NetProfitPct: 0.3, Confidence: 0.8,
		Timestamp: time.Now(),
	}

	mock.ExpectQuery(`INSERT INTO opportunities`).WithArgs(
		sig.Symbol, sig.BuyVenue, sig.SellVenue, sig.BuyPrice, sig.SellPrice, sig.BuySize, sig.SellSize,
		sig.GrossProfitPct, sig.NetProfitPct, sig.Confidence, sig.IsPremiumOutlier, sig.Timestamp,
	).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	id, err := store.SaveOpportunity(sig)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOpportunityExecuted(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(`UPDATE opportunities SET executed`).WithArgs(int64(1), true).WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.MarkOpportunityExecuted(1, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
