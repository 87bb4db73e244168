// Package universe implements the Symbol Universe Service (§4.7): it
// periodically asks every enabled venue for its tradable symbols,
// normalizes and filters them, and publishes the resulting set to the
// Detection Engine and to each Venue Adapter for subscription.
package universe

import (
	"context"
	"sort"
	"sync"
	"time"

	"spotarb/internal/config"
	"spotarb/internal/exchange"
	"spotarb/pkg/utils"
)

// perVenueLimit bounds how many symbols a single venue's adapter will
// subscribe to, independent of arbitrage.max_symbols — a static ceiling
// observed from each venue's streaming subscription limits (§4.1).
var perVenueLimit = map[string]int{
	"bybit":  300,
	"bitget": 200,
	"okx":    300,
	"gate":   200,
	"htx":    150,
	"bingx":  150,
}

const defaultPerVenueLimit = 150

// fallbackSymbols seeds the universe for a venue whose enumeration call
// fails, so a transient REST outage doesn't empty the whole universe.
var fallbackSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "BNBUSDT"}

// Publisher receives the refreshed active symbol set.
type Publisher interface {
	SetActiveSymbols(symbols []string)
}

// Subscriber is asked to (re)subscribe its stream to the refreshed set.
type Subscriber interface {
	ConnectStream(ctx context.Context, symbols []string) error
}

// Service is the Symbol Universe Service.
type Service struct {
	mu        sync.RWMutex
	exchanges map[string]exchange.Exchange
	denyLists map[string]map[string]struct{} // venue -> canonical symbol -> present

	enabledQuoteCurrencies map[string]struct{}
	maxSymbols             int
	refreshInterval        time.Duration

	detectionSink Publisher
	logger        *utils.Logger

	current []string
}

// NewService builds the universe service from the loaded config.
func NewService(exchanges map[string]exchange.Exchange, venues map[string]config.VenueConfig, arb config.ArbitrageConfig, refreshInterval time.Duration, detectionSink Publisher) *Service {
	quotes := make(map[string]struct{}, len(arb.EnabledQuoteCurrencies))
	for _, q := range arb.EnabledQuoteCurrencies {
		quotes[utils.NormalizeSymbol(q)] = struct{}{}
	}

	deny := make(map[string]map[string]struct{}, len(venues))
	for name, v := range venues {
		set := make(map[string]struct{}, len(v.DenySymbols))
		for _, s := range v.DenySymbols {
			set[utils.NormalizeSymbol(s)] = struct{}{}
		}
		deny[name] = set
	}

	return &Service{
		exchanges:              exchanges,
		denyLists:              deny,
		enabledQuoteCurrencies: quotes,
		maxSymbols:             arb.MaxSymbols,
		refreshInterval:        refreshInterval,
		detectionSink:          detectionSink,
		logger:                 utils.L().WithComponent("symbol_universe"),
	}
}

// Run performs an initial refresh, then refreshes on refreshInterval
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.Refresh(ctx)

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Current returns the last published active symbol set.
func (s *Service) Current() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.current))
	copy(out, s.current)
	return out
}

// Refresh performs one full enumerate/normalize/filter/intersect/publish
// cycle (§4.7 steps 1-6).
func (s *Service) Refresh(ctx context.Context) {
	perVenue := make(map[string][]string, len(s.exchanges))
	for name, exch := range s.exchanges {
		symbols, err := exch.ListSymbols(ctx)
		if err != nil {
			s.logger.Warn("symbol enumeration failed, using fallback list",
				utils.String("venue", name), utils.Err(err))
			symbols = fallbackSymbols
		}
		perVenue[name] = s.normalizeAndFilter(name, symbols)
	}

	active := s.intersect(perVenue)
	sort.Strings(active)
	if s.maxSymbols > 0 && len(active) > s.maxSymbols {
		active = active[:s.maxSymbols]
	}

	s.mu.Lock()
	s.current = active
	s.mu.Unlock()

	s.logger.Info("symbol universe refreshed", utils.Int("symbol_count", len(active)))

	if s.detectionSink != nil {
		s.detectionSink.SetActiveSymbols(active)
	}
	s.resubscribeAll(ctx, active)
}

// normalizeAndFilter canonicalizes venue-wire symbols, keeps only those
// quoted in an enabled currency, drops the venue's deny-listed symbols,
// and truncates to that venue's static subscription limit.
func (s *Service) normalizeAndFilter(venue string, symbols []string) []string {
	deny := s.denyLists[venue]
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))

	for _, raw := range symbols {
		norm := utils.NormalizeSymbol(raw)
		if !utils.IsValidSymbol(norm) {
			continue
		}
		quote := utils.ExtractQuoteCurrency(norm)
		if quote == "" {
			continue
		}
		if _, ok := s.enabledQuoteCurrencies[quote]; !ok {
			continue
		}
		if deny != nil {
			if _, denied := deny[norm]; denied {
				continue
			}
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}

	sort.Strings(out)
	limit := perVenueLimit[venue]
	if limit == 0 {
		limit = defaultPerVenueLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// intersect computes the cross-venue symbol intersection for N>=2 venues,
// or returns the single venue's set directly for N=1 (§4.7 step 4).
func (s *Service) intersect(perVenue map[string][]string) []string {
	if len(perVenue) == 0 {
		return nil
	}
	if len(perVenue) == 1 {
		for _, symbols := range perVenue {
			out := make([]string, len(symbols))
			copy(out, symbols)
			return out
		}
	}

	counts := make(map[string]int)
	for _, symbols := range perVenue {
		for _, sym := range symbols {
			counts[sym]++
		}
	}
	n := len(perVenue)
	out := make([]string, 0, len(counts))
	for sym, c := range counts {
		if c == n {
			out = append(out, sym)
		}
	}
	return out
}

// resubscribeAll pushes the refreshed set to every adapter capable of
// subscribing (§4.7 step 6).
func (s *Service) resubscribeAll(ctx context.Context, symbols []string) {
	for name, exch := range s.exchanges {
		if err := exch.ConnectStream(ctx, symbols); err != nil {
			s.logger.Error("resubscribe failed", utils.String("venue", name), utils.Err(err))
		}
	}
}
