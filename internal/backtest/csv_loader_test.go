package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestCSVLoader_ReadsMatchingFilesAndFiltersWindow(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "bybit_BTCUSDT.csv", "timestamp,venue,symbol,bid_price,ask_price\n"+
		"2026-01-01T00:00:00Z,bybit,BTCUSDT,59990,60000\n"+
		"2026-01-02T00:00:00Z,bybit,BTCUSDT,61000,61010\n")
	writeCSV(t, dir, "okx_BTCUSDT.csv", "timestamp,venue,symbol,bid_price,ask_price\n"+
		"2026-01-01T00:00:01Z,okx,BTCUSDT,60500,60510\n")

	loader := NewCSVLoader(dir)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	quotes, err := loader.LoadQuotes(context.Background(), []string{"bybit", "okx"}, []string{"BTCUSDT"}, from, to)
	require.NoError(t, err)
	assert.Len(t, quotes, 2) // the 2026-01-02 bybit row falls outside the window
}

func TestCSVLoader_SkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	loader := NewCSVLoader(dir)
	quotes, err := loader.LoadQuotes(context.Background(), []string{"bybit"}, []string{"ETHUSDT"}, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, quotes)
}
