package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spotarb/internal/api"
	"spotarb/internal/backtest"
	"spotarb/internal/config"
	"spotarb/internal/detect"
	"spotarb/internal/exchange"
	"spotarb/internal/execute"
	"spotarb/internal/models"
	"spotarb/internal/persistence"
	"spotarb/internal/quotes"
	"spotarb/internal/universe"
	"spotarb/internal/wshub"
	"spotarb/pkg/utils"

	_ "github.com/lib/pq"
)

// minQuotePersistInterval gates how often the same (venue,symbol) pair
// is written to the quotes table; detection sees every tick regardless.
const minQuotePersistInterval = 500 * time.Millisecond

const universeRefreshInterval = 5 * time.Minute

// fallbackBacktestSymbols seeds a backtest run when no explicit symbol
// list is configured — the same majors the Symbol Universe Service falls
// back to on a venue enumeration failure.
var fallbackBacktestSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "BNBUSDT"}

func main() {
	configPath := flag.String("config", os.Getenv("SPOTARB_CONFIG"), "path to config YAML")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger.Info("starting spotarb", utils.String("trading_mode", string(cfg.Global.TradingMode)))

	store, err := persistence.Open(databaseDSN(cfg), 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", utils.Err(err))
		os.Exit(1)
	}
	defer store.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Error("schema migration failed", utils.Err(err))
		os.Exit(1)
	}

	if err := syncVenueAccounts(cfg, store, logger); err != nil {
		logger.Warn("venue account credential sync failed", utils.Err(err))
	}

	exchanges := buildExchanges(cfg)

	if cfg.Global.TradingMode == config.ModeBacktest {
		runBacktest(cfg, store, logger)
		return
	}

	hub := wshub.NewHub()
	go hub.Run()

	tunables := config.NewTunableParams(cfg.Arbitrage)
	feeCache := persistence.NewFeeCache(store, 0.001)
	if err := feeCache.Reload(); err != nil {
		logger.Warn("fee cache reload failed, starting with defaults", utils.Err(err))
	}

	baseline := detect.NewPremiumBaselineTracker(
		cfg.PremiumDetection.LookbackPeriods,
		cfg.PremiumDetection.MinSamples,
		cfg.PremiumDetection.OutlierThreshold,
	)

	notifier := &pushNotifier{store: store, hub: hub, logger: logger}

	var executor execute.Executor
	venueNames := make([]string, 0, len(exchanges))
	for name := range exchanges {
		venueNames = append(venueNames, name)
	}

	if cfg.Global.TradingMode == config.ModeLive {
		drawdown := execute.NewDrawdownTracker(cfg.Backtest.InitialBalance)
		executor = execute.NewLiveExecutor(exchanges, cfg.Arbitrage, cfg.Risk, tunables, drawdown, store, notifier)
	} else {
		executor = execute.NewSimulator(venueNames, cfg.Simulation, cfg.Arbitrage, cfg.Risk, tunables, store, notifier)
	}

	sink := &executingSink{store: store, hub: hub, executor: executor, logger: logger}
	engine := detect.NewEngine(cfg.Arbitrage, feeCache, sink, baseline, tunables)
	router := quotes.NewRouter(engine, store, minQuotePersistInterval, cfg.Persistence.BatchSize, cfg.Persistence.BatchInterval())

	universeSvc := universe.NewService(exchanges, cfg.Venues, cfg.Arbitrage, universeRefreshInterval, engine)

	ctx, cancel := context.WithCancel(context.Background())

	go engine.Run(ctx)
	go universeSvc.Run(ctx)
	go refreshFeesPeriodically(ctx, exchanges, universeSvc, feeCache, logger)

	for name, exch := range exchanges {
		go pumpQuotes(name, exch, router, hub, logger)
	}

	deps := &api.Dependencies{Hub: hub, Tunables: tunables}
	httpRouter := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", utils.String("addr", server.Addr))
		var serveErr error
		if cfg.Server.UseHTTPS {
			serveErr = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			serveErr = server.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("http server failed", utils.Err(serveErr))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()

	for name, exch := range exchanges {
		if err := exch.Close(); err != nil {
			logger.Warn("venue close failed", utils.String("venue", name), utils.Err(err))
		}
	}

	router.FlushNow()
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", utils.Err(err))
	}

	logger.Info("server exited")
}

// databaseDSN builds the Postgres connection string from DatabaseConfig.
func databaseDSN(cfg *config.Config) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

// syncVenueAccounts persists every enabled venue's credentials to the
// exchange_accounts table (AES-256-GCM at rest under
// cfg.Security.EncryptionKey) and immediately round-trips a load to
// confirm the stored ciphertext decrypts with the configured key —
// catching a key mismatch at startup rather than on the next restart.
func syncVenueAccounts(cfg *config.Config, store *persistence.Store, logger *utils.Logger) error {
	for name, v := range cfg.Venues {
		if !v.Enabled {
			continue
		}
		acct := models.VenueAccount{
			Name: name, APIKey: v.APIKey, SecretKey: v.APISecret, Passphrase: v.Passphrase,
		}
		if err := store.SaveVenueAccount(acct, cfg.Security.EncryptionKey); err != nil {
			return fmt.Errorf("save venue account %q: %w", name, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	accounts, err := store.LoadVenueAccounts(ctx, cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("verify venue account round trip: %w", err)
	}
	logger.Info("venue account credentials synced", utils.Int("count", len(accounts)))
	return nil
}

// buildExchanges constructs one adapter per enabled venue in cfg.
func buildExchanges(cfg *config.Config) map[string]exchange.Exchange {
	out := make(map[string]exchange.Exchange, len(cfg.Venues))
	for name, v := range cfg.Venues {
		if !v.Enabled {
			continue
		}
		exch, err := exchange.NewExchange(name, v.APIKey, v.APISecret, v.Passphrase)
		if err != nil {
			utils.L().Warn("skipping unsupported venue", utils.String("venue", name), utils.Err(err))
			continue
		}
		out[name] = exch
	}
	return out
}

// pumpQuotes drains one venue adapter's quote channel for the process
// lifetime, routing each tick to detection/persistence and the push hub.
func pumpQuotes(venue string, exch exchange.Exchange, router *quotes.Router, hub *wshub.Hub, logger *utils.Logger) {
	for q := range exch.Quotes() {
		router.Route(q)
		hub.BroadcastQuote(wshub.NewQuoteMessage(q))
	}
	logger.Info("quote channel closed", utils.String("venue", venue))
}

// refreshFeesPeriodically keeps the shared fee cache warm from each
// venue's own fee schedule, for the symbols currently in the universe.
func refreshFeesPeriodically(ctx context.Context, exchanges map[string]exchange.Exchange, universeSvc *universe.Service, cache *persistence.FeeCache, logger *utils.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			symbols := universeSvc.Current()
			for name, exch := range exchanges {
				for _, sym := range symbols {
					fs, err := exch.FetchFees(ctx, sym)
					if err != nil {
						continue
					}
					cache.Set(name, sym, fs.TakerFee)
				}
			}
			logger.Debug("fee cache refreshed", utils.Int("symbol_count", len(symbols)))
		}
	}
}

// executingSink is the live detect.Sink: it persists and broadcasts every
// signal that clears detection's gates, then hands it to the executor on
// its own goroutine so EmitSignal never blocks the engine's write path.
type executingSink struct {
	store    *persistence.Store
	hub      *wshub.Hub
	executor execute.Executor
	logger   *utils.Logger
}

func (s *executingSink) EmitSignal(sig models.ArbitrageSignal) {
	oppID, err := s.store.SaveOpportunity(sig)
	if err != nil {
		s.logger.Warn("opportunity persist failed", utils.Err(err))
	}
	s.hub.BroadcastSignal(wshub.NewSignalMessage(&sig))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		executed := s.executor.Execute(ctx, sig)
		if oppID != 0 {
			if err := s.store.MarkOpportunityExecuted(oppID, executed); err != nil {
				s.logger.Warn("opportunity executed-flag update failed", utils.Err(err))
			}
		}
	}()
}

// pushNotifier is the live execute.Notifier: it persists the notification
// audit trail and fans it out over the WebSocket push surface.
type pushNotifier struct {
	store  *persistence.Store
	hub    *wshub.Hub
	logger *utils.Logger
}

func (n *pushNotifier) Notify(note models.Notification) {
	if err := n.store.SaveNotification(note); err != nil {
		n.logger.Warn("notification persist failed", utils.Err(err))
	}
	n.hub.BroadcastNotification(wshub.NewNotificationMessage(&note))
}

// runBacktest replays persisted or CSV quote history per cfg.Backtest and
// logs the resulting summary; it never starts the HTTP/WS surface.
func runBacktest(cfg *config.Config, store *persistence.Store, logger *utils.Logger) {
	const dateLayout = "2006-01-02"

	start, err := time.Parse(dateLayout, cfg.Backtest.StartDate)
	if err != nil {
		logger.Error("invalid backtest.start_date", utils.Err(err))
		os.Exit(1)
	}
	end, err := time.Parse(dateLayout, cfg.Backtest.EndDate)
	if err != nil {
		logger.Error("invalid backtest.end_date", utils.Err(err))
		os.Exit(1)
	}

	venues := make([]string, 0, len(cfg.Venues))
	for name, v := range cfg.Venues {
		if v.Enabled {
			venues = append(venues, name)
		}
	}
	if len(venues) == 0 {
		logger.Error("no enabled venues configured for backtest")
		os.Exit(1)
	}

	var loader backtest.QuoteLoader = store
	if cfg.Backtest.DataSource == "csv" {
		loader = backtest.NewCSVLoader(cfg.Backtest.CSVPath)
	}

	bt := backtest.NewBacktester(*cfg, loader)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := bt.Run(ctx, venues, fallbackBacktestSymbols, start, end)
	if err != nil {
		logger.Error("backtest run failed", utils.Err(err))
		os.Exit(1)
	}

	logger.Info("backtest complete",
		utils.Int("total_trades", result.TotalTrades),
		utils.Float64("net_profit", result.NetProfit),
		utils.Float64("win_rate_pct", result.WinRate),
		utils.Float64("sharpe_ratio", result.SharpeRatio),
		utils.Float64("max_drawdown_pct", result.MaxDrawdownPercent),
	)
}
