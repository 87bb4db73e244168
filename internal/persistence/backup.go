package persistence

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"spotarb/pkg/utils"
)

// BackupTask periodically snapshots the opportunities and trades tables to CSV
// files under a configured directory (§4.8: "backups are periodic file
// copies"). There is no ecosystem CSV writer in the example pack — every
// CSV use found there (sawpanic-cryptorun's cold-storage reader) is also
// built on encoding/csv, so this follows that lead rather than reaching
// for a third-party serializer for a plain flat-file dump.
type BackupTask struct {
	store    *Store
	dir      string
	interval time.Duration
	logger   *utils.Logger
}

// NewBackupTask builds a task writing snapshots to dir every intervalHours.
func NewBackupTask(store *Store, dir string, intervalHours int) *BackupTask {
	if intervalHours <= 0 {
		intervalHours = 24
	}
	return &BackupTask{
		store:    store,
		dir:      dir,
		interval: time.Duration(intervalHours) * time.Hour,
		logger:   utils.L().WithComponent("persistence_backup"),
	}
}

// Run fires immediately, then on the configured interval until ctx is
// cancelled.
func (t *BackupTask) Run(ctx context.Context) {
	t.snapshot(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.snapshot(ctx)
		}
	}
}

func (t *BackupTask) snapshot(ctx context.Context) {
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		t.logger.Error("backup mkdir failed", utils.Err(err))
		return
	}

	stamp := t.stamp()
	if err := t.dumpOpportunities(ctx, stamp); err != nil {
		t.logger.Error("backup opportunities failed", utils.Err(err))
	}
	if err := t.dumpTrades(ctx, stamp); err != nil {
		t.logger.Error("backup trades failed", utils.Err(err))
	}
	t.logger.Info("backup snapshot written", utils.String("dir", t.dir))
}

// stamp names a snapshot's files by wall-clock UTC time; backups are a
// wall-clock side effect and are never replayed.
func (t *BackupTask) stamp() string {
	return time.Now().UTC().Format("20060102T150405Z")
}

func (t *BackupTask) dumpOpportunities(ctx context.Context, stamp string) error {
	ctx, cancel := t.store.ctx(ctx)
	defer cancel()

	rows, err := t.store.db.QueryxContext(ctx, `
		SELECT id, symbol, buy_venue, sell_venue, buy_price, sell_price, net_profit_pct, executed, timestamp
		FROM opportunities ORDER BY timestamp ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	f, err := os.Create(filepath.Join(t.dir, fmt.Sprintf("opportunities_%s.csv", stamp)))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"id", "symbol", "buy_venue", "sell_venue", "buy_price", "sell_price", "net_profit_pct", "executed", "timestamp"}); err != nil {
		return err
	}

	for rows.Next() {
		var (
			id                                int64
			symbol, buyVenue, sellVenue       string
			buyPrice, sellPrice, netProfitPct float64
			executed                          bool
			timestamp                         time.Time
		)
		if err := rows.Scan(&id, &symbol, &buyVenue, &sellVenue, &buyPrice, &sellPrice, &netProfitPct, &executed, &timestamp); err != nil {
			return err
		}
		if err := w.Write([]string{
			strconv.FormatInt(id, 10), symbol, buyVenue, sellVenue,
			strconv.FormatFloat(buyPrice, 'f', -1, 64),
			strconv.FormatFloat(sellPrice, 'f', -1, 64),
			strconv.FormatFloat(netProfitPct, 'f', -1, 64),
			strconv.FormatBool(executed),
			timestamp.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (t *BackupTask) dumpTrades(ctx context.Context, stamp string) error {
	ctx, cancel := t.store.ctx(ctx)
	defer cancel()

	rows, err := t.store.db.QueryxContext(ctx, `
		SELECT signal_id, symbol, state, realized_pnl, unrealized_pnl, last_update
		FROM trades ORDER BY last_update ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	f, err := os.Create(filepath.Join(t.dir, fmt.Sprintf("trades_%s.csv", stamp)))
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	if err := w.Write([]string{"signal_id", "symbol", "state", "realized_pnl", "unrealized_pnl", "last_update"}); err != nil {
		return err
	}

	for rows.Next() {
		var (
			signalID                   int64
			symbol, state              string
			realizedPnl, unrealizedPnl float64
			lastUpdate                 time.Time
		)
		if err := rows.Scan(&signalID, &symbol, &state, &realizedPnl, &unrealizedPnl, &lastUpdate); err != nil {
			return err
		}
		if err := w.Write([]string{
			strconv.FormatInt(signalID, 10), symbol, state,
			strconv.FormatFloat(realizedPnl, 'f', -1, 64),
			strconv.FormatFloat(unrealizedPnl, 'f', -1, 64),
			lastUpdate.Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	return rows.Err()
}
