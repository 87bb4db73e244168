package backtest

import (
	"sync"

	"spotarb/internal/models"
)

// memRecorder satisfies execute.Recorder entirely in memory: a backtest
// run never needs the real persistence.Store on its hot replay path, but
// still wants every settled trade for the final Result aggregation.
type memRecorder struct {
	mu      sync.Mutex
	signals []models.ArbitrageSignal
	saved   []models.TradeRuntime
}

func newMemRecorder() *memRecorder {
	return &memRecorder{}
}

func (r *memRecorder) recordSignal(sig models.ArbitrageSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

// SaveTrade satisfies execute.Recorder.
func (r *memRecorder) SaveTrade(trade *models.TradeRuntime) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *trade)
	return nil
}

func (r *memRecorder) trades() []models.TradeRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.TradeRuntime, len(r.saved))
	copy(out, r.saved)
	return out
}
