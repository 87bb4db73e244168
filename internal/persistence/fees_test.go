package persistence

import "testing"

func TestFeeCache_FallbackWhenUnknown(t *testing.T) {
	c := NewFeeCache(nil, 0.001)
	if got := c.TakerFee("bybit", "BTCUSDT"); got != 0.001 {
		t.Fatalf("expected fallback 0.001, got %v", got)
	}
}

func TestFeeCache_SetWithoutStore(t *testing.T) {
	c := NewFeeCache(nil, 0.001)
	c.Set("bybit", "BTCUSDT", 0.0008)
	if got := c.TakerFee("bybit", "BTCUSDT"); got != 0.0008 {
		t.Fatalf("expected 0.0008, got %v", got)
	}
	if got := c.TakerFee("okx", "BTCUSDT"); got != 0.001 {
		t.Fatalf("expected fallback for unknown pair, got %v", got)
	}
}
