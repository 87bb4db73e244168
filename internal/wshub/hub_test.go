package wshub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotarb/internal/models"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	require.NotNil(t, hub)
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, int64(0), hub.DroppedMessages())
}

func TestOriginChecker_Check(t *testing.T) {
	checker := &OriginChecker{
		allowedOrigins: map[string]struct{}{
			"http://localhost:3000": {},
			"https://example.com":   {},
		},
		allowAll: false,
	}

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://localhost:8080", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, checker.Check(tt.origin), "origin %q", tt.origin)
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	checker := &OriginChecker{allowAll: true}
	for _, origin := range []string{"http://localhost:3000", "https://evil.com", ""} {
		assert.True(t, checker.Check(origin))
	}
}

func TestHub_RegisterUnregisterAndBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, clientSendBufferSize)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())

	hub.Broadcast(NewQuoteMessage(&models.Quote{
		Venue: "bybit", Symbol: models.SymbolID{Base: "BTC", Quote: "USDT"},
		BidPrice: 100, AskPrice: 101, Timestamp: time.Now(),
	}))

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), `"type":"quote"`)
	case <-time.After(time.Second):
		t.Fatal("expected a message to be delivered to the client")
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	// never started: Run() is not draining h.broadcast, so it fills up.
	for i := 0; i < broadcastBufferSize+10; i++ {
		hub.BroadcastRaw([]byte("x"))
	}
	assert.Greater(t, hub.DroppedMessages(), int64(0))
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}

func TestHub_ConcurrentOperations(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	var wg sync.WaitGroup
	const goroutines = 10
	const operations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				hub.Broadcast(NewSignalMessage(&models.ArbitrageSignal{Symbol: "BTCUSDT", Timestamp: time.Now()}))
			}
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < operations; j++ {
				_ = hub.ClientCount()
			}
		}()
	}
	wg.Wait()
}

func TestNewTradeMessage_IncludesLegs(t *testing.T) {
	trade := &models.TradeRuntime{
		SignalID: 1, Symbol: "BTCUSDT", State: models.StateSettled, RealizedPnl: 5,
		Legs: []models.TradeLeg{
			{Venue: "bybit", Side: "buy", EntryPrice: 100, Quantity: 1},
			{Venue: "okx", Side: "sell", EntryPrice: 101, Quantity: 1},
		},
		LastUpdate: time.Now(),
	}
	msg := NewTradeMessage(trade)
	assert.Equal(t, MessageTypeTrade, msg.Type)
	require.Len(t, msg.Data.Legs, 2)
	assert.Equal(t, "bybit", msg.Data.Legs[0].Venue)
}
