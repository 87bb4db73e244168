package persistence

import (
	"context"
	"time"

	"spotarb/pkg/utils"
)

// CleanupTask runs the hourly retention sweep described in §4.8: delete
// quotes older than max_history_days, and zero balance rows not updated
// for a day.
// Grounded on the risk monitor's ticker-driven periodic loop in
// bot/risk.go, retargeted from margin checks to retention cleanup.
type CleanupTask struct {
	store           *Store
	maxHistory      time.Duration
	staleBalanceAge time.Duration
	logger          *utils.Logger
}

// NewCleanupTask builds a task that keeps maxHistoryDays of quote history.
func NewCleanupTask(store *Store, maxHistoryDays int) *CleanupTask {
	if maxHistoryDays <= 0 {
		maxHistoryDays = 30
	}
	return &CleanupTask{
		store:           store,
		maxHistory:      time.Duration(maxHistoryDays) * 24 * time.Hour,
		staleBalanceAge: 24 * time.Hour,
		logger:          utils.L().WithComponent("persistence_cleanup"),
	}
}

// Run fires immediately, then once an hour until ctx is cancelled.
func (t *CleanupTask) Run(ctx context.Context) {
	t.sweep(ctx)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

func (t *CleanupTask) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-t.maxHistory)
	removed, err := t.store.CleanupQuotesOlderThan(ctx, cutoff)
	if err != nil {
		t.logger.Error("quote cleanup failed", utils.Err(err))
	} else if removed > 0 {
		t.logger.Info("quote cleanup", utils.Int64("rows_removed", removed))
	}

	removedBalances, err := t.store.CleanupSupersededBalances(ctx, t.staleBalanceAge)
	if err != nil {
		t.logger.Error("balance cleanup failed", utils.Err(err))
	} else if removedBalances > 0 {
		t.logger.Info("balance cleanup", utils.Int64("rows_removed", removedBalances))
	}
}
