package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/models"
)

func TestParameterSweep_TriesFullCartesianProduct(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	quotes := []models.Quote{
		{Venue: "bybit", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 59990, AskPrice: 60000, BidSize: 1, AskSize: 1, Timestamp: start},
		{Venue: "okx", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 60500, AskPrice: 60510, BidSize: 1, AskSize: 1, Timestamp: start.Add(time.Second)},
	}
	loader := fakeLoader{quotes: quotes}

	grid := SweepGrid{
		MinProfitThreshold: []float64{0.0001, 0.0002},
		SlippageTolerance:  []float64{0, 0.0001},
		MaxTradesPerHour:   []int{10},
	}

	best, all, err := ParameterSweep(context.Background(), testConfig(), loader, []string{"bybit", "okx"}, []string{"BTCUSDT"}, start.Add(-time.Minute), start.Add(time.Hour), grid)
	require.NoError(t, err)
	assert.Len(t, all, 4) // 2 * 2 * 1
	require.NotNil(t, best)

	for _, r := range all {
		if r.Score > best.Score {
			t.Fatalf("best result %+v is not actually the highest-scoring combination (found %+v)", best, r)
		}
	}
}

func TestParameterSweep_DefaultsEmptyDimensionsToCurrentConfig(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	quotes := []models.Quote{
		{Venue: "bybit", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 59990, AskPrice: 60000, BidSize: 1, AskSize: 1, Timestamp: start},
		{Venue: "okx", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 60500, AskPrice: 60510, BidSize: 1, AskSize: 1, Timestamp: start.Add(time.Second)},
	}
	loader := fakeLoader{quotes: quotes}

	_, all, err := ParameterSweep(context.Background(), testConfig(), loader, []string{"bybit", "okx"}, []string{"BTCUSDT"}, start.Add(-time.Minute), start.Add(time.Hour), SweepGrid{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestParameterSweep_SkipsFailedCombinations(t *testing.T) {
	loader := fakeLoader{err: assert.AnError}
	best, all, err := ParameterSweep(context.Background(), testConfig(), loader, []string{"bybit", "okx"}, []string{"BTCUSDT"}, time.Now().Add(-time.Hour), time.Now(), SweepGrid{})
	require.NoError(t, err)
	assert.Nil(t, best)
	assert.Empty(t, all)
}
