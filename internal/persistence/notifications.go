package persistence

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"spotarb/internal/models"
)

var jsonc = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveNotification persists a Notification's audit trail — the kept half
// of the teacher's notification repository, wired to the new domain's
// event set (signal fired, trade opened/closed, leg failed, drawdown
// halt) instead of pair/liquidation events.
func (s *Store) SaveNotification(n models.Notification) error {
	ctx, cancel := s.ctx(nil)
	defer cancel()

	var metaJSON []byte
	if len(n.Meta) > 0 {
		var err error
		metaJSON, err = jsonc.Marshal(n.Meta)
		if err != nil {
			return fmt.Errorf("persistence: marshal notification meta: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (type, severity, signal_id, message, meta, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.Type, n.Severity, n.SignalID, n.Message, metaJSON, n.Timestamp)
	if err != nil {
		return fmt.Errorf("persistence: insert notification: %w", err)
	}
	return nil
}

type notificationRow struct {
	ID        int       `db:"id"`
	Type      string    `db:"type"`
	Severity  string    `db:"severity"`
	SignalID  *int      `db:"signal_id"`
	Message   string    `db:"message"`
	Meta      []byte    `db:"meta"`
	Timestamp time.Time `db:"timestamp"`
}

// RecentNotifications returns the last limit notifications, newest first.
func (s *Store) RecentNotifications(ctx context.Context, limit int) ([]models.Notification, error) {
	ctx, cancel := s.ctx(ctx)
	defer cancel()

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, type, severity, signal_id, message, meta, timestamp
		FROM notifications
		ORDER BY timestamp DESC
		LIMIT $1`, limit); err != nil {
		return nil, fmt.Errorf("persistence: select notifications: %w", err)
	}

	out := make([]models.Notification, 0, len(rows))
	for _, r := range rows {
		n := models.Notification{
			ID:        r.ID,
			Type:      r.Type,
			Severity:  r.Severity,
			SignalID:  r.SignalID,
			Message:   r.Message,
			Timestamp: r.Timestamp,
		}
		if len(r.Meta) > 0 {
			if err := jsonc.Unmarshal(r.Meta, &n.Meta); err != nil {
				return nil, fmt.Errorf("persistence: unmarshal notification meta: %w", err)
			}
		}
		out = append(out, n)
	}
	return out, nil
}
