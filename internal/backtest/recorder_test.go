package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/models"
)

func TestMemRecorder_RecordsSignalsAndTrades(t *testing.T) {
	r := newMemRecorder()

	r.recordSignal(models.ArbitrageSignal{Symbol: "BTCUSDT"})
	require.NoError(t, r.SaveTrade(&models.TradeRuntime{Symbol: "BTCUSDT", RealizedPnl: 1.5}))
	require.NoError(t, r.SaveTrade(&models.TradeRuntime{Symbol: "ETHUSDT", RealizedPnl: -0.5}))

	trades := r.trades()
	require.Len(t, trades, 2)
	assert.Equal(t, "BTCUSDT", trades[0].Symbol)
	assert.Equal(t, -0.5, trades[1].RealizedPnl)
}

func TestMemRecorder_TradesReturnsCopy(t *testing.T) {
	r := newMemRecorder()
	require.NoError(t, r.SaveTrade(&models.TradeRuntime{Symbol: "BTCUSDT"}))

	trades := r.trades()
	trades[0].Symbol = "MUTATED"

	again := r.trades()
	assert.Equal(t, "BTCUSDT", again[0].Symbol)
}
