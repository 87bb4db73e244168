// Package detect implements the Detection Engine: the single-writer state
// machine that turns a stream of per-venue quotes into gated
// cross-venue arbitrage signals.
package detect

import (
	"context"
	"sync"
	"time"

	"spotarb/internal/config"
	"spotarb/internal/metrics"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Sink receives every signal that clears all gates. EmitSignal is called
// on the engine's single-writer path (holding the engine's lock) and must
// not block — implementations hand off to a buffered channel or a
// goroutine of their own.
type Sink interface {
	EmitSignal(sig models.ArbitrageSignal)
}

// FeeProvider resolves the cached taker fee for a (venue, symbol) pair,
// backed by each adapter's own fee cache (§4.1).
type FeeProvider interface {
	TakerFee(venue, symbol string) float64
}

type quoteKey struct {
	Venue  string
	Symbol string
}

type cooldownKey struct {
	Symbol string
	VenueA string
	VenueB string
}

// quoteEntry is one venue's current view of a symbol, with the taker fee
// cached at the time the entry was created so the hot path never calls
// FeeProvider inline.
type quoteEntry struct {
	quote    models.Quote
	arrival  time.Time
	takerFee float64
}

var signalPool = sync.Pool{New: func() any { return new(models.Opportunity) }}

// Engine is the Detection Engine (§4.3). One Engine instance owns all
// detection state for the process; OnQuote is the only write path, called
// from whichever adapter goroutine delivered the quote, serialized by mu.
// This trades the teacher's lock-minimized multi-shard hot path for a
// single full-state lock, since unlike the futures engine's concurrent
// position readers, nothing else in this design reads detection state
// concurrently with OnQuote — simplicity wins with no measured cost.
type Engine struct {
	mu sync.Mutex

	quoteTable    map[quoteKey]*quoteEntry
	cooldowns     map[cooldownKey]time.Time
	activeSymbols map[string]struct{}

	recentSignalTimes []time.Time // ring buffer, cap 100, oldest-first

	fees     FeeProvider
	sink     Sink
	baseline *PremiumBaselineTracker
	tunables *config.TunableParams

	maxSpreadAge       time.Duration
	slippageTolerance  float64
	maxSpreadThreshold float64
	maxTradesPerHour   int
	cooldownDuration   time.Duration

	logger *utils.Logger
}

const (
	recentSignalsCapacity = 100
	defaultCooldown       = 60 * time.Second
	cleanupInterval        = 5 * time.Minute
)

// NewEngine builds a Detection Engine from arbitrage config, a fee
// provider, a signal sink, and the live-adjustable tunables.
func NewEngine(arb config.ArbitrageConfig, fees FeeProvider, sink Sink, baseline *PremiumBaselineTracker, tunables *config.TunableParams) *Engine {
	return &Engine{
		quoteTable:         make(map[quoteKey]*quoteEntry),
		cooldowns:          make(map[cooldownKey]time.Time),
		activeSymbols:      make(map[string]struct{}),
		fees:               fees,
		sink:               sink,
		baseline:           baseline,
		tunables:           tunables,
		maxSpreadAge:       arb.MaxSpreadAge(),
		slippageTolerance:  arb.SlippageTolerance,
		maxSpreadThreshold: arb.MaxSpreadThreshold,
		maxTradesPerHour:   arb.MaxTradesPerHour,
		cooldownDuration:   defaultCooldown,
		logger:             utils.L().WithComponent("detect_engine"),
	}
}

// SetActiveSymbols replaces the set of symbols the engine will consider.
// Called by the Symbol Universe Service whenever the universe refreshes.
func (e *Engine) SetActiveSymbols(symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}
	e.mu.Lock()
	e.activeSymbols = next
	e.mu.Unlock()
}

// Run starts the periodic stale-entry cleanup task and blocks until ctx
// is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanup(time.Now())
		}
	}
}

// OnQuote implements quotes.Detector. Quotes for symbols outside the
// active set are dropped without touching the quote table; otherwise it
// updates the quote table for (venue, symbol) and scans every ordered
// venue pair for profitable, ungated arbitrage candidates.
func (e *Engine) OnQuote(q *models.Quote) {
	if q == nil {
		return
	}
	symbol := q.Symbol.String()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, active := e.activeSymbols[symbol]; !active {
		return
	}

	key := quoteKey{Venue: q.Venue, Symbol: symbol}
	entry, ok := e.quoteTable[key]
	if !ok {
		entry = &quoteEntry{takerFee: e.lookupFee(q.Venue, symbol)}
		e.quoteTable[key] = entry
	}
	entry.quote = *q
	// arrival tracks the quote's own timestamp rather than wall-clock time,
	// so cooldowns, staleness gating, and confidence scoring all replay
	// identically under the Backtester's synthetic clock (§4.9).
	entry.arrival = q.Timestamp

	e.scanSymbol(symbol, entry.arrival)
}

func (e *Engine) lookupFee(venue, symbol string) float64 {
	if e.fees == nil {
		return 0
	}
	return e.fees.TakerFee(venue, symbol)
}

// scanSymbol walks every ordered pair of fresh, non-synthetic venues for
// symbol and evaluates each one; every candidate that clears every gate
// emits its own signal. Must be called with mu held.
func (e *Engine) scanSymbol(symbol string, now time.Time) {
	type fresh struct {
		venue string
		entry *quoteEntry
	}
	var entries []fresh
	for k, entry := range e.quoteTable {
		if k.Symbol != symbol {
			continue
		}
		if entry.quote.Synthetic {
			continue
		}
		if entry.quote.Stale(now, e.maxSpreadAge) {
			continue
		}
		entries = append(entries, fresh{venue: k.Venue, entry: entry})
	}
	if len(entries) < 2 {
		return
	}

	for _, a := range entries {
		for _, b := range entries {
			if a.venue == b.venue {
				continue
			}
			e.evaluatePair(symbol, a.venue, a.entry, b.venue, b.entry, now)
		}
	}
}

func (e *Engine) evaluatePair(symbol, buyVenue string, buy *quoteEntry, sellVenue string, sell *quoteEntry, now time.Time) {
	buyPrice := buy.quote.AskPrice
	sellPrice := sell.quote.BidPrice
	if buyPrice <= 0 || sellPrice <= 0 {
		return
	}

	gross := sellPrice - buyPrice
	fees := buyPrice*buy.takerFee + sellPrice*sell.takerFee
	slippage := buyPrice * e.slippageTolerance
	net := gross - fees - slippage
	if net <= 0 {
		return
	}
	profitFraction := net / buyPrice
	metrics.RecordSpread(symbol, profitFraction*100)

	adjusted, isOutlier := e.baseline.Observe(symbol, buyVenue, sellVenue, profitFraction)

	minProfit := e.tunables.MinProfitThreshold()
	if profitFraction < minProfit || profitFraction > e.maxSpreadThreshold {
		metrics.RecordOpportunity(symbol, false)
		return
	}

	ck := cooldownKey{Symbol: symbol, VenueA: buyVenue, VenueB: sellVenue}
	if until, ok := e.cooldowns[ck]; ok && now.Before(until) {
		return
	}

	if e.signalsLastHour(now) >= e.maxTradesPerHour {
		return
	}

	age := now.Sub(buy.arrival)
	if sellAge := now.Sub(sell.arrival); sellAge > age {
		age = sellAge
	}
	confidence := confidenceScore(buy.quote.AskSize, sell.quote.BidSize, age, e.maxSpreadAge)

	op := signalPool.Get().(*models.Opportunity)
	op.Reset()
	op.Symbol = symbol
	op.BuyVenue = buyVenue
	op.BuyPrice = buyPrice
	op.SellVenue = sellVenue
	op.SellPrice = sellPrice
	op.RawSpread = utils.CalculateSpread(sellPrice, buyPrice)
	op.Timestamp = now

	signal := models.ArbitrageSignal{
		Symbol:           op.Symbol,
		BuyVenue:         op.BuyVenue,
		SellVenue:        op.SellVenue,
		BuyPrice:         op.BuyPrice,
		SellPrice:        op.SellPrice,
		BuySize:          buy.quote.AskSize,
		SellSize:         sell.quote.BidSize,
		GrossProfitPct:   op.RawSpread,
		NetProfitPct:     profitFraction * 100,
		Confidence:       confidence,
		IsPremiumOutlier: isOutlier,
		Timestamp:        op.Timestamp,
	}
	_ = adjusted // baseline adjustment is advisory, carried only via IsPremiumOutlier

	signalPool.Put(op)

	metrics.RecordOpportunity(symbol, true)
	metrics.RecordSignalLatency(symbol, float64(time.Since(buy.arrival).Milliseconds()))

	if e.sink != nil {
		e.sink.EmitSignal(signal)
	}

	e.recentSignalTimes = append(e.recentSignalTimes, now)
	if len(e.recentSignalTimes) > recentSignalsCapacity {
		e.recentSignalTimes = e.recentSignalTimes[len(e.recentSignalTimes)-recentSignalsCapacity:]
	}
	e.cooldowns[ck] = now.Add(e.cooldownDuration)
}

// confidenceScore blends order-book depth (capped at 1000 units) with
// quote freshness into a single [0,1] score (§4.3).
func confidenceScore(buyAskSize, sellBidSize float64, age, maxAge time.Duration) float64 {
	depth := buyAskSize
	if sellBidSize < depth {
		depth = sellBidSize
	}
	depthScore := utils.Clamp(depth/1000, 0, 1)

	freshScore := 0.0
	if maxAge > 0 {
		freshScore = 1 - float64(age)/float64(maxAge)
		if freshScore < 0 {
			freshScore = 0
		}
	}
	return 0.5*depthScore + 0.5*freshScore
}

// signalsLastHour counts entries in recentSignalTimes within the last
// hour of now. Must be called with mu held.
func (e *Engine) signalsLastHour(now time.Time) int {
	cutoff := now.Add(-time.Hour)
	count := 0
	for _, t := range e.recentSignalTimes {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// cleanup evicts quote table entries and cooldowns that have gone stale,
// called every cleanupInterval from Run.
func (e *Engine) cleanup(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for k, entry := range e.quoteTable {
		if now.Sub(entry.arrival) > cleanupInterval {
			delete(e.quoteTable, k)
		}
	}
	for k, until := range e.cooldowns {
		if now.After(until) {
			delete(e.cooldowns, k)
		}
	}
	e.logger.Debug("detection cleanup",
		utils.Int("quote_table_size", len(e.quoteTable)),
		utils.Int("cooldowns", len(e.cooldowns)))
}
