package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	ent "CivicAlertManager/internal/entity"
)

// HistoryStore is the append-only log of notification attempts. It has no
// update or delete path.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Append stores the attempt and returns it with its assigned id.
func (s *HistoryStore) Append(ctx context.Context, at ent.NotificationAttempt) (ent.NotificationAttempt, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_attempts (alert_id, authority_id, channel, level, outcome, detail, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		at.AlertID, at.AuthorityID, string(at.Channel), at.Level, string(at.Outcome), at.Detail, at.Timestamp.UnixNano(),
	)
	if err != nil {
		return at, fmt.Errorf("%w: failed to append attempt: %v", ent.ErrPersistence, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		at.ID = id
	}
	return at, nil
}

// HasAttempt reports whether a successful (sent or delivered) attempt exists
// for the alert, authority and level.
func (s *HistoryStore) HasAttempt(ctx context.Context, alertID, authorityID string, level int) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_attempts WHERE alert_id = ? AND authority_id = ? AND level = ? AND outcome IN ('sent', 'delivered')`,
		alertID, authorityID, level,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check attempts: %v", ent.ErrPersistence, err)
	}
	return n > 0, nil
}

// ListByAlert returns the alert's attempts in append order.
func (s *HistoryStore) ListByAlert(ctx context.Context, alertID string) ([]ent.NotificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alert_id, authority_id, channel, level, outcome, detail, created_at FROM notification_attempts WHERE alert_id = ? ORDER BY id`,
		alertID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var out []ent.NotificationAttempt
	for rows.Next() {
		var (
			at      ent.NotificationAttempt
			channel string
			outcome string
			ts      int64
		)
		if err := rows.Scan(&at.ID, &at.AlertID, &at.AuthorityID, &channel, &at.Level, &outcome, &at.Detail, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		at.Channel = ent.Channel(channel)
		at.Outcome = ent.Outcome(outcome)
		at.Timestamp = time.Unix(0, ts)
		out = append(out, at)
	}
	return out, rows.Err()
}
