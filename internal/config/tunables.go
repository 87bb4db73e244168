package config

import "sync"

// TunableParams holds the small set of knobs the external control surface
// may adjust at runtime without a restart: min_profit_threshold and
// trade_amount_usd (§5). Reads happen on every detection-engine quote
// update, so the lock favors readers.
type TunableParams struct {
	mu                 sync.RWMutex
	minProfitThreshold float64
	tradeAmountUSD     float64
}

// NewTunableParams seeds the tunables from the loaded arbitrage config.
func NewTunableParams(arb ArbitrageConfig) *TunableParams {
	return &TunableParams{
		minProfitThreshold: arb.MinProfitThreshold,
		tradeAmountUSD:     arb.TradeAmountUSD,
	}
}

// MinProfitThreshold returns the current threshold under a read lock, so
// readers wait only behind writers, per sync.RWMutex semantics.
func (t *TunableParams) MinProfitThreshold() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.minProfitThreshold
}

// TradeAmountUSD returns the current per-trade notional.
func (t *TunableParams) TradeAmountUSD() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tradeAmountUSD
}

// SetMinProfitThreshold updates the threshold; rejects non-positive values.
func (t *TunableParams) SetMinProfitThreshold(v float64) bool {
	if v <= 0 {
		return false
	}
	t.mu.Lock()
	t.minProfitThreshold = v
	t.mu.Unlock()
	return true
}

// SetTradeAmountUSD updates the per-trade notional; rejects non-positive values.
func (t *TunableParams) SetTradeAmountUSD(v float64) bool {
	if v <= 0 {
		return false
	}
	t.mu.Lock()
	t.tradeAmountUSD = v
	t.mu.Unlock()
	return true
}

// Snapshot returns both values for display/logging purposes.
func (t *TunableParams) Snapshot() (minProfit, tradeAmount float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.minProfitThreshold, t.tradeAmountUSD
}
