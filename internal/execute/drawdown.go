package execute

import "sync"

// DrawdownTracker tracks the maximum observed drawdown of a portfolio's
// equity curve relative to its starting value: max((initial-current)/initial)
// over the run (§4.6). Shared by the Live Executor (fed from polled
// balances) and the Simulator (fed from its in-memory portfolio).
type DrawdownTracker struct {
	mu      sync.Mutex
	initial float64
	current float64
	maxPct  float64
}

// NewDrawdownTracker seeds the tracker with the starting equity. A
// non-positive initial disables drawdown tracking (always reports 0).
func NewDrawdownTracker(initialEquity float64) *DrawdownTracker {
	return &DrawdownTracker{initial: initialEquity, current: initialEquity}
}

// Update records a new equity observation and folds it into the running
// maximum drawdown.
func (d *DrawdownTracker) Update(equity float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = equity
	if d.initial <= 0 {
		return
	}
	pct := (d.initial - equity) / d.initial
	if pct > d.maxPct {
		d.maxPct = pct
	}
}

// MaxDrawdownPercent returns the largest drawdown observed so far, as a
// fraction (0.1 == 10%).
func (d *DrawdownTracker) MaxDrawdownPercent() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxPct
}

// CurrentEquity returns the most recently recorded equity value.
func (d *DrawdownTracker) CurrentEquity() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
