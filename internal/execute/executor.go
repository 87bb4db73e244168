// Package execute implements the Executor common contract (§4.5): the
// component that turns an ArbitrageSignal into two market orders, and its
// two interchangeable backends, LiveExecutor (this file) and Simulator
// (simulator.go).
package execute

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spotarb/internal/config"
	"spotarb/internal/exchange"
	"spotarb/internal/metrics"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// Executor accepts a detected signal and attempts to trade it. Execute
// returns whether the trade was successfully initiated — the caller
// (Detection's signal sink) never blocks on trade completion.
type Executor interface {
	Execute(ctx context.Context, signal models.ArbitrageSignal) bool
	ActiveTrades() int
}

// Recorder persists trade lifecycle events. Implementations must not
// block the executor's monitoring loop for long; internal/persistence's
// Store.SaveTrade writes each call synchronously in one transaction.
type Recorder interface {
	SaveTrade(trade *models.TradeRuntime) error
}

// Notifier raises an event for the push surface / operator visibility.
type Notifier interface {
	Notify(n models.Notification)
}

var legResultChanPool = sync.Pool{
	New: func() any { return make(chan legResult, 1) },
}

type legResult struct {
	order *models.Order
	err   error
}

// ErrRefused is wrapped by every refusal reason so callers can detect a
// gate rejection versus a placement failure with errors.Is.
type ErrRefused struct{ Reason string }

func (e *ErrRefused) Error() string { return "execution refused: " + e.Reason }

const monitorTimeout = 5 * time.Minute

// LiveExecutor places real orders on real venues (§4.5).
type LiveExecutor struct {
	mu        sync.RWMutex
	exchanges map[string]exchange.Exchange

	arb  config.ArbitrageConfig
	risk config.RiskConfig

	tunables *config.TunableParams
	drawdown *DrawdownTracker

	activeMu    sync.Mutex
	activeCount int

	recorder Recorder
	notifier Notifier

	logger *utils.Logger
}

// NewLiveExecutor builds a LiveExecutor over the given venue registry.
func NewLiveExecutor(exchanges map[string]exchange.Exchange, arb config.ArbitrageConfig, risk config.RiskConfig, tunables *config.TunableParams, drawdown *DrawdownTracker, recorder Recorder, notifier Notifier) *LiveExecutor {
	return &LiveExecutor{
		exchanges: exchanges,
		arb:       arb,
		risk:      risk,
		tunables:  tunables,
		drawdown:  drawdown,
		recorder:  recorder,
		notifier:  notifier,
		logger:    utils.L().WithComponent("live_executor"),
	}
}

func (e *LiveExecutor) ActiveTrades() int {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	metrics.UpdateActiveTrades(int64(e.activeCount))
	return e.activeCount
}

// Execute implements Executor (§4.5: refusal gates, sizing, parallel
// placement, monitoring, completion).
func (e *LiveExecutor) Execute(ctx context.Context, signal models.ArbitrageSignal) bool {
	if err := e.checkRefusal(signal); err != nil {
		e.logger.Info("trade refused", utils.String("symbol", signal.Symbol), utils.Err(err))
		return false
	}

	e.mu.RLock()
	buyExch, buyOk := e.exchanges[signal.BuyVenue]
	sellExch, sellOk := e.exchanges[signal.SellVenue]
	e.mu.RUnlock()
	if !buyOk || !sellOk {
		e.logger.Warn("unknown venue in signal",
			utils.String("buy_venue", signal.BuyVenue), utils.String("sell_venue", signal.SellVenue))
		return false
	}

	qty, err := e.sizeTrade(ctx, signal, buyExch, sellExch)
	if err != nil {
		e.logger.Info("sizing refused", utils.String("symbol", signal.Symbol), utils.Err(err))
		return false
	}

	e.activeMu.Lock()
	e.activeCount++
	e.activeMu.Unlock()

	go e.runTrade(signal, buyExch, sellExch, qty)
	return true
}

func (e *LiveExecutor) checkRefusal(signal models.ArbitrageSignal) error {
	if e.ActiveTrades() >= e.risk.MaxConcurrentTrades {
		return &ErrRefused{Reason: "max_concurrent_trades reached"}
	}
	netFraction := signal.NetProfitPct / 100
	if netFraction < e.tunables.MinProfitThreshold() {
		return &ErrRefused{Reason: "projected profit below min_profit_threshold"}
	}
	if e.drawdown != nil && e.drawdown.MaxDrawdownPercent()*100 >= e.risk.MaxDrawdownPercent {
		metrics.RecordDrawdownHalt("max_drawdown_percent")
		return &ErrRefused{Reason: "max_drawdown_percent reached"}
	}
	if time.Since(signal.Timestamp) > e.arb.MaxSpreadAge() {
		return &ErrRefused{Reason: "signal too old"}
	}
	return nil
}

// sizeTrade implements §4.5's sizing formula: desired_qty =
// trade_amount_usd / buy_price, clamped to available balances, signal
// depth, and max_position_size.
func (e *LiveExecutor) sizeTrade(ctx context.Context, signal models.ArbitrageSignal, buyExch, sellExch exchange.Exchange) (float64, error) {
	desiredQty := e.tunables.TradeAmountUSD() / signal.BuyPrice

	baseAsset := utils.ExtractBaseCurrency(signal.Symbol)
	quoteAsset := utils.ExtractQuoteCurrency(signal.Symbol)

	availQuote, err := availableBalance(ctx, buyExch, quoteAsset)
	if err != nil {
		return 0, fmt.Errorf("fetch balance on %s: %w", signal.BuyVenue, err)
	}
	availBase, err := availableBalance(ctx, sellExch, baseAsset)
	if err != nil {
		return 0, fmt.Errorf("fetch balance on %s: %w", signal.SellVenue, err)
	}

	qty := desiredQty
	if signal.BuyPrice > 0 {
		qty = utils.Clamp(qty, 0, availQuote/signal.BuyPrice)
	}
	qty = utils.Clamp(qty, 0, availBase)
	if signal.BuySize > 0 {
		qty = utils.Clamp(qty, 0, signal.BuySize)
	}
	if signal.SellSize > 0 {
		qty = utils.Clamp(qty, 0, signal.SellSize)
	}
	if e.arb.MaxPositionSize > 0 && signal.BuyPrice > 0 {
		qty = utils.Clamp(qty, 0, e.arb.MaxPositionSize/signal.BuyPrice)
	}

	if qty <= 0 {
		return 0, &ErrRefused{Reason: "insufficient balance on one or both legs"}
	}
	return qty, nil
}

func availableBalance(ctx context.Context, exch exchange.Exchange, asset string) (float64, error) {
	balances, err := exch.FetchBalances(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return 0, nil
}

// runTrade places both legs in parallel, supervises them to a terminal
// state, and records the completed trade. Runs on its own goroutine so
// Execute never blocks the Detection signal sink.
func (e *LiveExecutor) runTrade(signal models.ArbitrageSignal, buyExch, sellExch exchange.Exchange, qty float64) {
	defer func() {
		e.activeMu.Lock()
		e.activeCount--
		e.activeMu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), monitorTimeout)
	defer cancel()

	buyCh := acquireLegResultChan()
	sellCh := acquireLegResultChan()
	defer releaseLegResultChan(buyCh)
	defer releaseLegResultChan(sellCh)

	placeCtx, placeCancel := context.WithTimeout(ctx, 30*time.Second)
	defer placeCancel()

	go func() {
		order, err := buyExch.PlaceOrder(placeCtx, signal.Symbol, exchange.SideBuy, qty)
		buyCh <- legResult{order: order, err: err}
	}()
	go func() {
		order, err := sellExch.PlaceOrder(placeCtx, signal.Symbol, exchange.SideSell, qty)
		sellCh <- legResult{order: order, err: err}
	}()

	var buyRes, sellRes legResult
	var buyDone, sellDone bool
	for !buyDone || !sellDone {
		select {
		case buyRes = <-buyCh:
			buyDone = true
		case sellRes = <-sellCh:
			sellDone = true
		case <-placeCtx.Done():
			buyDone, sellDone = true, true
		}
	}

	trade := &models.TradeRuntime{
		Symbol:     signal.Symbol,
		State:      models.StateEntering,
		LastUpdate: time.Now(),
	}

	if buyRes.err != nil && sellRes.err != nil {
		e.fail(trade, fmt.Errorf("both legs failed: buy=%v sell=%v", buyRes.err, sellRes.err))
		return
	}
	if buyRes.err != nil {
		e.rollback(ctx, sellExch, signal.Symbol, exchange.SideSell, sellRes.order)
		e.fail(trade, fmt.Errorf("buy leg failed, sell rolled back: %w", buyRes.err))
		return
	}
	if sellRes.err != nil {
		e.rollback(ctx, buyExch, signal.Symbol, exchange.SideBuy, buyRes.order)
		e.fail(trade, fmt.Errorf("sell leg failed, buy rolled back: %w", sellRes.err))
		return
	}

	trade.Legs = []models.TradeLeg{
		{Venue: signal.BuyVenue, Side: "buy", EntryPrice: buyRes.order.PriceAvg, Quantity: buyRes.order.Quantity, OrderID: buyRes.order.ExchangeID},
		{Venue: signal.SellVenue, Side: "sell", EntryPrice: sellRes.order.PriceAvg, Quantity: sellRes.order.Quantity, OrderID: sellRes.order.ExchangeID},
	}
	now := time.Now()
	trade.EntryTime = &now
	trade.State = models.StateHolding

	e.monitor(ctx, buyExch, sellExch, signal.Symbol, buyRes.order, sellRes.order, trade)
}

// rollback best-effort unwinds a leg that succeeded when its counterpart
// failed, per §4.5's "if the second placement fails, the first is
// canceled (best-effort)".
func (e *LiveExecutor) rollback(ctx context.Context, exch exchange.Exchange, symbol, filledSide string, order *models.Order) {
	if order == nil || order.Quantity <= 0 {
		return
	}
	unwindSide := exchange.SideSell
	if filledSide == exchange.SideSell {
		unwindSide = exchange.SideBuy
	}
	rollbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := exch.PlaceOrder(rollbackCtx, symbol, unwindSide, order.Quantity); err != nil {
		e.logger.Error("rollback leg failed", utils.String("symbol", symbol), utils.Err(err))
	}
}

// monitor re-polls both legs until terminal or monitorTimeout elapses,
// then computes realized profit.
func (e *LiveExecutor) monitor(ctx context.Context, buyExch, sellExch exchange.Exchange, symbol string, buyOrder, sellOrder *models.Order, trade *models.TradeRuntime) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		buyTerm := isTerminal(buyOrder)
		sellTerm := isTerminal(sellOrder)
		if buyTerm && sellTerm {
			break
		}
		select {
		case <-ctx.Done():
			if !buyTerm {
				_ = buyExch.CancelOrder(context.Background(), symbol, buyOrder.ExchangeID)
			}
			if !sellTerm {
				_ = sellExch.CancelOrder(context.Background(), symbol, sellOrder.ExchangeID)
			}
			trade.State = models.StateError
			e.notify(models.NotificationTypeError, models.SeverityError, "monitoring timeout, orders cancelled")
			e.save(trade)
			return
		case <-ticker.C:
			if !buyTerm {
				if o, err := buyExch.QueryOrder(ctx, symbol, buyOrder.ExchangeID); err == nil {
					buyOrder = o
				}
			}
			if !sellTerm {
				if o, err := sellExch.QueryOrder(ctx, symbol, sellOrder.ExchangeID); err == nil {
					sellOrder = o
				}
			}
		}
	}

	realized := (sellOrder.Quantity*sellOrder.PriceAvg - buyOrder.Quantity*buyOrder.PriceAvg)
	trade.RealizedPnl = realized
	trade.State = models.StateExiting
	trade.State = models.StateSettled
	trade.LastUpdate = time.Now()
	metrics.RecordTrade(symbol, "settled", realized)
	e.notify(models.NotificationTypeClose, models.SeverityInfo, fmt.Sprintf("trade settled, realized pnl %.4f", realized))
	e.save(trade)
}

func isTerminal(o *models.Order) bool {
	if o == nil {
		return true
	}
	switch o.Status {
	case models.OrderStatusFilled, models.OrderStatusCancelled, models.OrderStatusRejected:
		return true
	default:
		return false
	}
}

func (e *LiveExecutor) fail(trade *models.TradeRuntime, err error) {
	trade.State = models.StateError
	trade.LastUpdate = time.Now()
	metrics.RecordTrade(trade.Symbol, "failed", 0)
	e.logger.Error("trade failed", utils.Err(err))
	e.notify(models.NotificationTypeSecondLegFail, models.SeverityError, err.Error())
	e.save(trade)
}

func (e *LiveExecutor) notify(typ, severity, msg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(models.Notification{Timestamp: time.Now(), Type: typ, Severity: severity, Message: msg})
}

func (e *LiveExecutor) save(trade *models.TradeRuntime) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.SaveTrade(trade); err != nil {
		e.logger.Warn("trade record save failed", utils.Err(err))
	}
}

func acquireLegResultChan() chan legResult { return legResultChanPool.Get().(chan legResult) }

func releaseLegResultChan(ch chan legResult) {
	select {
	case <-ch:
	default:
	}
	legResultChanPool.Put(ch)
}
