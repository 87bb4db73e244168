package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/config"
	"spotarb/internal/models"
)

type fakeLoader struct {
	quotes []models.Quote
	err    error
}

func (f fakeLoader) LoadQuotes(_ context.Context, _, _ []string, _, _ time.Time) ([]models.Quote, error) {
	return f.quotes, f.err
}

func testConfig() config.Config {
	cfg := config.Config{
		Venues: map[string]config.VenueConfig{
			"bybit": {TakerFee: 0.001},
			"okx":   {TakerFee: 0.001},
		},
		Arbitrage: config.ArbitrageConfig{
			MinProfitThreshold:     0.0001,
			MaxTradesPerHour:       1000,
			TradeAmountUSD:         100,
			MaxSpreadThreshold:     1.0,
			MaxSpreadAgeSeconds:    60,
			EnabledQuoteCurrencies: []string{"USDT"},
		},
		PremiumDetection: config.PremiumDetectionConfig{
			LookbackPeriods: 50, MinSamples: 1, OutlierThreshold: 3,
		},
		Risk: config.RiskConfig{
			MaxConcurrentTrades: 10,
			MaxDrawdownPercent:  100,
		},
		Simulation: config.SimulationConfig{
			SeedQuoteAsset:   "USDT",
			SeedQuoteBalance: 100000,
			SeedBaseBalance:  10,
			ReferencePrices:  map[string]float64{"BTC": 60000},
		},
	}
	return cfg
}

func TestBacktester_Run_NoData(t *testing.T) {
	bt := NewBacktester(testConfig(), fakeLoader{})
	_, err := bt.Run(context.Background(), []string{"bybit", "okx"}, []string{"BTCUSDT"},
		time.Now().Add(-time.Hour), time.Now())
	assert.Error(t, err)
}

func TestBacktester_Run_ExecutesProfitableSpread(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	quotes := []models.Quote{
		{Venue: "bybit", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 59990, AskPrice: 60000, BidSize: 1, AskSize: 1, Timestamp: start},
		{Venue: "okx", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 60500, AskPrice: 60510, BidSize: 1, AskSize: 1, Timestamp: start.Add(time.Second)},
	}

	bt := NewBacktester(testConfig(), fakeLoader{quotes: quotes})
	res, err := bt.Run(context.Background(), []string{"bybit", "okx"}, []string{"BTCUSDT"}, start.Add(-time.Minute), start.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.GreaterOrEqual(t, res.TotalTrades, 1)
	assert.Contains(t, res.PerSymbolPnl, "BTCUSDT")
}

func TestSharpeRatio_NoReturns(t *testing.T) {
	assert.Equal(t, 0.0, sharpeRatio(nil))
}

func TestSharpeRatio_ZeroStdev(t *testing.T) {
	assert.Equal(t, 0.0, sharpeRatio([]float64{0.01, 0.01, 0.01}))
}

func TestMaxDrawdown(t *testing.T) {
	points := []PortfolioPoint{
		{Value: 100}, {Value: 120}, {Value: 90}, {Value: 110},
	}
	dd := maxDrawdown(points)
	assert.InDelta(t, 25.0, dd, 0.001) // (120-90)/120 * 100
}

func TestDailyReturns(t *testing.T) {
	points := []PortfolioPoint{{Value: 100}, {Value: 110}, {Value: 99}}
	returns := dailyReturns(points)
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.1, returns[0], 0.0001)
	assert.InDelta(t, -0.1, returns[1], 0.0001)
}
