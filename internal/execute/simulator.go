package execute

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"spotarb/internal/config"
	"spotarb/internal/models"
	"spotarb/pkg/utils"
)

// simulatedBalance is one asset's free/locked state on one simulated venue.
type simulatedBalance struct {
	Free   float64
	Locked float64
}

type balanceKey struct {
	Venue string
	Asset string
}

// simClock lets the Backtester drive the Simulator on a synthetic
// timeline instead of wall-clock time (§4.9: "wall-clock sleeps are
// disabled" during replay).
type simClock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Simulator is the paper-trading Executor variant (§4.6): it accepts
// signals identically to LiveExecutor but fills orders against an
// in-memory portfolio with configurable reject/partial-fill randomness
// instead of touching real venues.
type Simulator struct {
	mu        sync.Mutex
	portfolio map[balanceKey]*simulatedBalance
	prices    map[string]float64 // asset -> USD reference price, for equity valuation

	cfg      config.SimulationConfig
	arb      config.ArbitrageConfig
	risk     config.RiskConfig
	tunables *config.TunableParams
	drawdown *DrawdownTracker
	clock    simClock
	rng      *rand.Rand

	activeMu    sync.Mutex
	activeCount int

	totalFees float64

	recorder Recorder
	notifier Notifier
	logger   *utils.Logger
}

// NewSimulator seeds a fresh portfolio for venues, each starting with
// cfg's seed quote/base balances.
func NewSimulator(venues []string, cfg config.SimulationConfig, arb config.ArbitrageConfig, risk config.RiskConfig, tunables *config.TunableParams, recorder Recorder, notifier Notifier) *Simulator {
	s := &Simulator{
		portfolio: make(map[balanceKey]*simulatedBalance),
		prices:    cfg.ReferencePrices,
		cfg:       cfg,
		arb:       arb,
		risk:      risk,
		tunables:  tunables,
		clock:     wallClock{},
		rng:       rand.New(rand.NewSource(1)),
		recorder:  recorder,
		notifier:  notifier,
		logger:    utils.L().WithComponent("simulator"),
	}
	for _, v := range venues {
		s.portfolio[balanceKey{Venue: v, Asset: cfg.SeedQuoteAsset}] = &simulatedBalance{Free: cfg.SeedQuoteBalance}
		// Every venue can be either leg of a pair, so each needs starting
		// inventory in every base asset the simulator can price — keyed off
		// reference_prices rather than a single base asset (§4.6 multi-symbol).
		for asset := range cfg.ReferencePrices {
			s.portfolio[balanceKey{Venue: v, Asset: asset}] = &simulatedBalance{Free: cfg.SeedBaseBalance}
		}
	}
	s.drawdown = NewDrawdownTracker(s.equityLocked())
	return s
}

// SetClock installs a synthetic clock, used by the Backtester to replay
// quote history without wall-clock sleeps.
func (s *Simulator) SetClock(c simClock) { s.clock = c }

func (s *Simulator) ActiveTrades() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.activeCount
}

// Execute implements Executor against the simulated portfolio.
func (s *Simulator) Execute(ctx context.Context, signal models.ArbitrageSignal) bool {
	if err := s.checkRefusal(signal); err != nil {
		s.logger.Info("simulated trade refused", utils.String("symbol", signal.Symbol), utils.Err(err))
		return false
	}

	qty, err := s.sizeTrade(signal)
	if err != nil {
		s.logger.Info("simulated sizing refused", utils.String("symbol", signal.Symbol), utils.Err(err))
		return false
	}

	s.activeMu.Lock()
	s.activeCount++
	s.activeMu.Unlock()
	defer func() {
		s.activeMu.Lock()
		s.activeCount--
		s.activeMu.Unlock()
	}()

	s.runTrade(signal, qty)
	return true
}

func (s *Simulator) checkRefusal(signal models.ArbitrageSignal) error {
	if s.ActiveTrades() >= s.risk.MaxConcurrentTrades {
		return &ErrRefused{Reason: "max_concurrent_trades reached"}
	}
	if signal.NetProfitPct/100 < s.tunables.MinProfitThreshold() {
		return &ErrRefused{Reason: "projected profit below min_profit_threshold"}
	}
	if s.drawdown.MaxDrawdownPercent()*100 >= s.risk.MaxDrawdownPercent {
		return &ErrRefused{Reason: "max_drawdown_percent reached"}
	}
	if s.clock.Now().Sub(signal.Timestamp) > s.arb.MaxSpreadAge() {
		return &ErrRefused{Reason: "signal too old"}
	}
	return nil
}

func (s *Simulator) sizeTrade(signal models.ArbitrageSignal) (float64, error) {
	desiredQty := s.tunables.TradeAmountUSD() / signal.BuyPrice

	quoteAsset := utils.ExtractQuoteCurrency(signal.Symbol)
	baseAsset := utils.ExtractBaseCurrency(signal.Symbol)

	s.mu.Lock()
	availQuote := s.portfolio[balanceKey{Venue: signal.BuyVenue, Asset: quoteAsset}]
	availBase := s.portfolio[balanceKey{Venue: signal.SellVenue, Asset: baseAsset}]
	s.mu.Unlock()

	var freeQuote, freeBase float64
	if availQuote != nil {
		freeQuote = availQuote.Free
	}
	if availBase != nil {
		freeBase = availBase.Free
	}

	qty := desiredQty
	if signal.BuyPrice > 0 {
		qty = utils.Clamp(qty, 0, freeQuote/signal.BuyPrice)
	}
	qty = utils.Clamp(qty, 0, freeBase)
	if signal.BuySize > 0 {
		qty = utils.Clamp(qty, 0, signal.BuySize)
	}
	if signal.SellSize > 0 {
		qty = utils.Clamp(qty, 0, signal.SellSize)
	}
	if s.arb.MaxPositionSize > 0 && signal.BuyPrice > 0 {
		qty = utils.Clamp(qty, 0, s.arb.MaxPositionSize/signal.BuyPrice)
	}
	if qty <= 0 {
		return 0, &ErrRefused{Reason: "insufficient simulated balance on one or both legs"}
	}
	return qty, nil
}

// runTrade executes §4.6's order lifecycle for both legs: reject roll,
// reservation, simulated fill delay, slippage, and partial-fill roll.
func (s *Simulator) runTrade(signal models.ArbitrageSignal, qty float64) {
	trade := &models.TradeRuntime{Symbol: signal.Symbol, State: models.StateEntering, LastUpdate: s.clock.Now()}

	buyLeg, buyErr := s.placeLeg(signal.BuyVenue, signal.Symbol, exchangeSideBuy, qty, signal.BuyPrice)
	sellLeg, sellErr := s.placeLeg(signal.SellVenue, signal.Symbol, exchangeSideSell, qty, signal.SellPrice)

	if buyErr != nil && sellErr != nil {
		trade.State = models.StateError
		s.notify(models.NotificationTypeSecondLegFail, models.SeverityError, "both simulated legs rejected")
		s.save(trade)
		return
	}
	if buyErr != nil || sellErr != nil {
		// one leg rejected: reverse the other's reservation, no fill.
		if buyErr == nil {
			s.releaseReservation(signal.BuyVenue, signal.Symbol, exchangeSideBuy, qty, signal.BuyPrice)
		}
		if sellErr == nil {
			s.releaseReservation(signal.SellVenue, signal.Symbol, exchangeSideSell, qty, signal.SellPrice)
		}
		trade.State = models.StateError
		s.notify(models.NotificationTypeSecondLegFail, models.SeverityError, "one simulated leg rejected, other rolled back")
		s.save(trade)
		return
	}

	trade.Legs = []models.TradeLeg{
		{Venue: signal.BuyVenue, Side: "buy", EntryPrice: buyLeg.fillPrice, Quantity: buyLeg.filledQty},
		{Venue: signal.SellVenue, Side: "sell", EntryPrice: sellLeg.fillPrice, Quantity: sellLeg.filledQty},
	}
	now := s.clock.Now()
	trade.EntryTime = &now
	trade.State = models.StateHolding

	realized := sellLeg.filledQty*sellLeg.fillPrice - buyLeg.filledQty*buyLeg.fillPrice
	trade.RealizedPnl = realized
	trade.State = models.StateExiting
	trade.State = models.StateSettled
	trade.LastUpdate = s.clock.Now()

	s.drawdown.Update(s.equityLocked())
	s.notify(models.NotificationTypeClose, models.SeverityInfo, fmt.Sprintf("simulated trade settled, realized pnl %.4f", realized))
	s.save(trade)
}

type legFill struct {
	filledQty float64
	fillPrice float64
}

const (
	exchangeSideBuy  = "buy"
	exchangeSideSell = "sell"
)

// placeLeg rolls the reject probability, reserves funds, applies the
// fill-delay/slippage/partial-fill mechanics, then credits the
// counter-asset net of taker fee (§4.6 steps 1-3).
func (s *Simulator) placeLeg(venue, symbol, side string, qty, price float64) (legFill, error) {
	quoteAsset := utils.ExtractQuoteCurrency(symbol)
	baseAsset := utils.ExtractBaseCurrency(symbol)

	if s.rng.Float64() < s.cfg.OrderRejectProbability {
		return legFill{}, fmt.Errorf("simulated order rejected")
	}

	s.reserve(venue, side, quoteAsset, baseAsset, qty, price)

	// Only sleep out fill_delay_seconds in live/paper mode (wallClock); a
	// backtest replay installs a synthetic clock and must never block on
	// real time (§4.9).
	if s.cfg.FillDelaySeconds > 0 {
		if _, isWallClock := s.clock.(wallClock); isWallClock {
			time.Sleep(time.Duration(s.cfg.FillDelaySeconds * float64(time.Second)))
		}
	}

	adverse := s.arb.SlippageTolerance
	fillPrice := price
	if side == exchangeSideBuy {
		fillPrice = price * (1 + adverse)
	} else {
		fillPrice = price * (1 - adverse)
	}

	filledQty := qty
	if s.rng.Float64() < s.cfg.PartialFillProbability {
		fraction := s.cfg.PartialFillFraction
		if fraction <= 0 || fraction > 1 {
			fraction = 0.7
		}
		filledQty = qty * fraction
	}

	s.settle(venue, side, quoteAsset, baseAsset, qty, price, filledQty, fillPrice)
	return legFill{filledQty: filledQty, fillPrice: fillPrice}, nil
}

// reserve locks the funds needed for side: quote currency = qty*price on
// a buy, base currency = qty on a sell.
func (s *Simulator) reserve(venue, side, quoteAsset, baseAsset string, qty, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if side == exchangeSideBuy {
		b := s.balanceLocked(venue, quoteAsset)
		amount := qty * price
		b.Free -= amount
		b.Locked += amount
	} else {
		b := s.balanceLocked(venue, baseAsset)
		b.Free -= qty
		b.Locked += qty
	}
}

// releaseReservation reverses a reserve() call for a leg whose
// counterpart was rejected.
func (s *Simulator) releaseReservation(venue, symbol, side string, qty, price float64) {
	quoteAsset := utils.ExtractQuoteCurrency(symbol)
	baseAsset := utils.ExtractBaseCurrency(symbol)
	s.mu.Lock()
	defer s.mu.Unlock()
	if side == exchangeSideBuy {
		b := s.balanceLocked(venue, quoteAsset)
		amount := qty * price
		b.Locked -= amount
		b.Free += amount
	} else {
		b := s.balanceLocked(venue, baseAsset)
		b.Locked -= qty
		b.Free += qty
	}
}

// settle unlocks the original reservation (sized at reservedQty and the
// order's quoted price, not the slippage-adjusted fill price) and credits
// the counter-asset net of the taker fee, accumulating totalFees (§4.6
// step 3). Any reservation left over after the actual fill+fee cost is
// returned to Free.
func (s *Simulator) settle(venue, side, quoteAsset, baseAsset string, reservedQty, quotedPrice, filledQty, fillPrice float64) {
	const takerFee = 0.001 // fixed simulator fee for every venue; reference prices only value equity

	s.mu.Lock()
	defer s.mu.Unlock()

	if side == exchangeSideBuy {
		lockedAmount := reservedQty * quotedPrice
		spent := filledQty * fillPrice
		fee := spent * takerFee
		reserved := s.balanceLocked(venue, quoteAsset)
		reserved.Locked -= lockedAmount
		reserved.Free += lockedAmount - spent - fee
		base := s.balanceLocked(venue, baseAsset)
		base.Free += filledQty
		s.totalFees += fee
	} else {
		reserved := s.balanceLocked(venue, baseAsset)
		reserved.Locked -= reservedQty
		reserved.Free += reservedQty - filledQty
		proceeds := filledQty * fillPrice
		fee := proceeds * takerFee
		quote := s.balanceLocked(venue, quoteAsset)
		quote.Free += proceeds - fee
		s.totalFees += fee
	}
}

func (s *Simulator) balanceLocked(venue, asset string) *simulatedBalance {
	key := balanceKey{Venue: venue, Asset: asset}
	b, ok := s.portfolio[key]
	if !ok {
		b = &simulatedBalance{}
		s.portfolio[key] = b
	}
	return b
}

// equityLocked values the portfolio using the fixed reference price
// oracle (§4.6: "static reference prices for non-stable assets").
// It takes s.mu itself, so callers must not hold s.mu; Equity() is a
// plain wrapper around it.
func (s *Simulator) equityLocked() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for key, bal := range s.portfolio {
		total += (bal.Free + bal.Locked) * s.assetPrice(key.Asset)
	}
	return total
}

func (s *Simulator) assetPrice(asset string) float64 {
	switch asset {
	case "USDT", "USDC", "BUSD", "DAI":
		return 1
	}
	if p, ok := s.prices[asset]; ok {
		return p
	}
	return 0
}

// Equity returns the current mark-to-market portfolio value.
func (s *Simulator) Equity() float64 { return s.equityLocked() }

// TotalFees returns the cumulative simulated taker fees paid.
func (s *Simulator) TotalFees() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalFees
}

func (s *Simulator) notify(typ, severity, msg string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(models.Notification{Timestamp: s.clock.Now(), Type: typ, Severity: severity, Message: msg})
}

func (s *Simulator) save(trade *models.TradeRuntime) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveTrade(trade); err != nil {
		s.logger.Warn("simulated trade record save failed", utils.Err(err))
	}
}
