package persistence

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return NewStore(sqlxDB, time.Second), mock
}

func TestInsertQuotesBatch_Empty(t *testing.T) {
	store, mock := newTestStore(t)
	err := store.InsertQuotesBatch(nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertQuotesBatch_Success(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	quotes := []models.Quote{
		{Venue: "bybit", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 60000, AskPrice: 60010, Timestamp: now},
		{Venue: "okx", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 60005, AskPrice: 60015, Timestamp: now},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO quotes`)
	mock.ExpectExec(`INSERT INTO quotes`).WithArgs(
		"bybit", "BTCUSDT", 60000.0, 0.0, 60010.0, 0.0, false, now,
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO quotes`).WithArgs(
		"okx", "BTCUSDT", 60005.0, 0.0, 60015.0, 0.0, false, now,
	).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InsertQuotesBatch(quotes)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertQuotesBatch_RollsBackOnError(t *testing.T) {
	store, mock := newTestStore(t)

	now := time.Now()
	quotes := []models.Quote{
		{Venue: "bybit", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"}, BidPrice: 60000, AskPrice: 60010, Timestamp: now},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(`INSERT INTO quotes`)
	mock.ExpectExec(`INSERT INTO quotes`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := store.InsertQuotesBatch(quotes)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupQuotesOlderThan(t *testing.T) {
	store, mock := newTestStore(t)

	cutoff := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM quotes WHERE timestamp < \$1`).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	removed, err := store.CleanupQuotesOlderThan(nil, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSymbolFromString(t *testing.T) {
	cases := map[string]models.SymbolID{
		"BTCUSDT": {Base: "BTC", Quote: "USDT"},
		"ETHUSDC": {Base: "ETH", Quote: "USDC"},
		"SOLBTC":  {Base: "SOL", Quote: "BTC"},
	}
	for raw, want := range cases {
		assert.Equal(t, want, symbolFromString(raw), raw)
	}
}
