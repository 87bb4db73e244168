package backtest

import (
	"context"
	"math"
	"time"

	"spotarb/internal/config"
	"spotarb/pkg/utils"
)

// SweepGrid enumerates the parameter combinations to try. Each slice is
// one arbitrage.* knob's candidate values; ParameterSweep tries the full
// cartesian product, mirroring arbot/backtester.py's
// run_parameter_optimization (itertools.product over parameter values).
type SweepGrid struct {
	MinProfitThreshold []float64
	SlippageTolerance  []float64
	MaxTradesPerHour   []int
}

// SweepResult pairs one parameter combination with the Result it
// produced.
type SweepResult struct {
	MinProfitThreshold float64
	SlippageTolerance  float64
	MaxTradesPerHour   int
	Result             *Result
	Score              float64 // sharpe_ratio * net_profit
}

// ParameterSweep runs one backtest per combination in grid, scoring each
// by Sharpe ratio times net profit (the original's optimization
// objective), and returns every combination's result plus the best one.
// The caller's cfg.Arbitrage is never mutated: each combination gets its
// own copy.
func ParameterSweep(ctx context.Context, cfg config.Config, loader QuoteLoader, venues, symbols []string, start, end time.Time, grid SweepGrid) (best *SweepResult, all []SweepResult, err error) {
	logger := utils.L().WithComponent("backtest_sweep")

	minProfits := grid.MinProfitThreshold
	if len(minProfits) == 0 {
		minProfits = []float64{cfg.Arbitrage.MinProfitThreshold}
	}
	slippages := grid.SlippageTolerance
	if len(slippages) == 0 {
		slippages = []float64{cfg.Arbitrage.SlippageTolerance}
	}
	maxTrades := grid.MaxTradesPerHour
	if len(maxTrades) == 0 {
		maxTrades = []int{cfg.Arbitrage.MaxTradesPerHour}
	}

	bestScore := math.Inf(-1)
	for _, mp := range minProfits {
		for _, st := range slippages {
			for _, mt := range maxTrades {
				runCfg := cfg
				runCfg.Arbitrage.MinProfitThreshold = mp
				runCfg.Arbitrage.SlippageTolerance = st
				runCfg.Arbitrage.MaxTradesPerHour = mt

				bt := NewBacktester(runCfg, loader)
				res, runErr := bt.Run(ctx, venues, symbols, start, end)
				if runErr != nil {
					logger.Warn("sweep combination failed",
						utils.Float64("min_profit_threshold", mp),
						utils.Float64("slippage_tolerance", st),
						utils.Int("max_trades_per_hour", mt),
						utils.Err(runErr))
					continue
				}

				score := res.SharpeRatio * res.NetProfit
				sr := SweepResult{MinProfitThreshold: mp, SlippageTolerance: st, MaxTradesPerHour: mt, Result: res, Score: score}
				all = append(all, sr)

				logger.Info("sweep combination complete",
					utils.Float64("min_profit_threshold", mp),
					utils.Float64("slippage_tolerance", st),
					utils.Int("max_trades_per_hour", mt),
					utils.Float64("net_profit", res.NetProfit),
					utils.Float64("sharpe_ratio", res.SharpeRatio),
					utils.Float64("score", score))

				if best == nil || score > bestScore {
					sCopy := sr
					best = &sCopy
					bestScore = score
				}
			}
		}
	}

	return best, all, nil
}
