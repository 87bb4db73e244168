// Package metrics holds the Prometheus metric definitions exported by
// /metrics. Generalized from the teacher's internal/bot/metrics.go,
// retargeted from futures position/liquidation tracking to the spot
// pipeline's own stages: quote ingest, spread detection, order
// placement.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Latency ============

// QuoteToSignalLatency is the time from quote arrival to a signal
// being emitted by the detection engine, in milliseconds.
var QuoteToSignalLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spotarb",
		Subsystem: "detection",
		Name:      "quote_to_signal_latency_ms",
		Help:      "Latency from quote arrival to signal emission in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
	[]string{"symbol"},
)

// QuoteProcessingLatency is the time spent processing a single quote
// update inside the router/engine.
var QuoteProcessingLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spotarb",
		Subsystem: "quotes",
		Name:      "processing_latency_ms",
		Help:      "Time to process a single quote update in milliseconds",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	},
	[]string{"venue"},
)

// SpreadCalculationLatency is the time spent evaluating one symbol's
// venue pairs for a profitable spread.
var SpreadCalculationLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "spotarb",
		Subsystem: "detection",
		Name:      "spread_calculation_latency_ms",
		Help:      "Time to evaluate spread across venue pairs in milliseconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2},
	},
)

// OrderExecutionLatency is the round-trip time to place an order on a
// venue, by side (buy/sell).
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spotarb",
		Subsystem: "execution",
		Name:      "order_latency_ms",
		Help:      "Time to place and confirm an order on a venue in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"venue", "side"},
)

// ============ Event counters ============

// EventsProcessed counts quotes/signals/entries/exits by type.
var EventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotarb",
		Subsystem: "pipeline",
		Name:      "events_processed_total",
		Help:      "Total number of pipeline events processed",
	},
	[]string{"type"}, // quote, signal, entry, exit
)

// TradesTotal counts completed trades by symbol and outcome.
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotarb",
		Subsystem: "execution",
		Name:      "trades_total",
		Help:      "Total number of trades by outcome",
	},
	[]string{"symbol", "result"}, // result: settled, failed
)

// PnlTotal is the cumulative realized PnL across all trades, in quote
// currency units.
var PnlTotal = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spotarb",
		Subsystem: "execution",
		Name:      "pnl_total",
		Help:      "Total realized PnL across all settled trades",
	},
)

// ============ State gauges ============

// ActiveTrades reports how many trades are currently in-flight.
var ActiveTrades = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spotarb",
		Subsystem: "execution",
		Name:      "active_trades",
		Help:      "Current number of in-flight trades",
	},
)

// SymbolsTracked reports how many symbols the universe service
// currently considers tradeable, by quote currency.
var SymbolsTracked = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "spotarb",
		Subsystem: "universe",
		Name:      "symbols_tracked",
		Help:      "Number of symbols currently tracked, by quote currency",
	},
	[]string{"quote_currency"},
)

// VenueConnections reports each venue adapter's connection status.
var VenueConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "spotarb",
		Subsystem: "venue",
		Name:      "connection_status",
		Help:      "Venue adapter connection status (1=connected, 0=disconnected)",
	},
	[]string{"venue"},
)

// VenueBalance reports the quote-asset balance last observed on a
// venue.
var VenueBalance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "spotarb",
		Subsystem: "venue",
		Name:      "balance",
		Help:      "Last observed free balance on a venue, by asset",
	},
	[]string{"venue", "asset"},
)

// ============ Throughput / health ============

// BufferOverflows counts dropped events from full channel buffers.
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotarb",
		Subsystem: "pipeline",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // quote_router, wshub_broadcast, wshub_client
)

// GoroutineCount tracks the current goroutine count for capacity
// planning.
var GoroutineCount = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "spotarb",
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	},
)

// ============ Arbitrage-specific ============

// SpreadObserved records every evaluated venue-pair spread, whether or
// not it cleared the profit threshold.
var SpreadObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "spotarb",
		Subsystem: "detection",
		Name:      "spread_observed_percent",
		Help:      "Observed net spread values in percent",
		Buckets:   []float64{-1, -0.5, 0, 0.1, 0.2, 0.3, 0.5, 1, 2, 5},
	},
	[]string{"symbol"},
)

// OpportunitiesDetected counts evaluated spreads, split by whether a
// signal was actually emitted.
var OpportunitiesDetected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotarb",
		Subsystem: "detection",
		Name:      "opportunities_detected_total",
		Help:      "Number of arbitrage opportunities evaluated",
	},
	[]string{"symbol", "triggered"}, // triggered: yes, no
)

// DrawdownHalts counts how many times the risk layer halted trading on
// drawdown.
var DrawdownHalts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spotarb",
		Subsystem: "risk",
		Name:      "drawdown_halts_total",
		Help:      "Number of times trading was halted on drawdown",
	},
	[]string{"reason"},
)

// ============ Helpers ============

// RecordQuote records a processed quote update and its processing
// latency.
func RecordQuote(venue string, latencyMs float64) {
	QuoteProcessingLatency.WithLabelValues(venue).Observe(latencyMs)
	EventsProcessed.WithLabelValues("quote").Inc()
}

// RecordSignalLatency records the quote-to-signal latency for a
// symbol.
func RecordSignalLatency(symbol string, latencyMs float64) {
	QuoteToSignalLatency.WithLabelValues(symbol).Observe(latencyMs)
	EventsProcessed.WithLabelValues("signal").Inc()
}

// RecordTrade records a completed trade's outcome and realized PnL.
func RecordTrade(symbol, result string, pnl float64) {
	TradesTotal.WithLabelValues(symbol, result).Inc()
	if result == "settled" && pnl != 0 {
		PnlTotal.Add(pnl)
	}
}

// RecordBufferOverflow increments the drop counter for a named buffer.
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// UpdateActiveTrades sets the in-flight trade gauge.
func UpdateActiveTrades(count int64) {
	ActiveTrades.Set(float64(count))
}

// UpdateVenueStatus sets a venue's connection status and last
// observed quote-asset balance.
func UpdateVenueStatus(venue string, connected bool, quoteAsset string, balance float64) {
	if connected {
		VenueConnections.WithLabelValues(venue).Set(1)
	} else {
		VenueConnections.WithLabelValues(venue).Set(0)
	}
	VenueBalance.WithLabelValues(venue, quoteAsset).Set(balance)
}

// RecordOpportunity records an evaluated spread and whether it
// triggered a signal.
func RecordOpportunity(symbol string, triggered bool) {
	triggeredStr := "no"
	if triggered {
		triggeredStr = "yes"
	}
	OpportunitiesDetected.WithLabelValues(symbol, triggeredStr).Inc()
}

// RecordSpread records an observed net spread percentage for a
// symbol.
func RecordSpread(symbol string, spreadPercent float64) {
	SpreadObserved.WithLabelValues(symbol).Observe(spreadPercent)
}

// RecordDrawdownHalt records a drawdown-triggered trading halt.
func RecordDrawdownHalt(reason string) {
	DrawdownHalts.WithLabelValues(reason).Inc()
}
