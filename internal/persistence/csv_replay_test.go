package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVReader_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quotes.csv")
	content := "timestamp,exchange,pair,bid,ask,bid_qty,ask_qty\n" +
		"2026-01-01T00:00:00Z,bybit,BTCUSDT,60000,60010,0.5,0.5\n" +
		"2026-01-01T00:00:01Z,okx,BTCUSDT,60005,60020,0.4,0.4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	quotes, err := NewCSVReader().LoadFile(path)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	assert.Equal(t, "bybit", quotes[0].Venue)
	assert.Equal(t, "BTC", quotes[0].Symbol.Base)
	assert.Equal(t, "USDT", quotes[0].Symbol.Quote)
	assert.Equal(t, 60000.0, quotes[0].BidPrice)
	assert.Equal(t, 60010.0, quotes[0].AskPrice)
	assert.Equal(t, 0.5, quotes[0].BidSize)
}

func TestCSVReader_MissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("foo,bar\n1,2\n"), 0o644))

	_, err := NewCSVReader().LoadFile(path)
	assert.Error(t, err)
}

func TestParseCSVTimestamp_UnixSeconds(t *testing.T) {
	ts, err := parseCSVTimestamp("1735689600")
	require.NoError(t, err)
	assert.Equal(t, int64(1735689600), ts.Unix())
}

func TestParseCSVTimestamp_Invalid(t *testing.T) {
	_, err := parseCSVTimestamp("not-a-time")
	assert.Error(t, err)
}
