package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	ent "CivicAlertManager/internal/entity"
)

// AlertStore persists alert aggregates, including the armed deadline, so
// escalations survive a restart.
type AlertStore struct {
	db *sql.DB
}

func NewAlertStore(db *sql.DB) *AlertStore {
	return &AlertStore{db: db}
}

const alertColumns = `id, report_id, issue_type, severity, location, description, rule_json, level, status, assignee_id, deadline, created_at, updated_at`

func (s *AlertStore) Create(ctx context.Context, a ent.Alert) error {
	ruleJSON, err := json.Marshal(a.Rule)
	if err != nil {
		return fmt.Errorf("%w: failed to encode rule snapshot: %v", ent.ErrPersistence, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ReportID, a.IssueType, a.Severity, a.Location, a.Description, string(ruleJSON),
		a.Level, string(a.Status), a.AssigneeID, nullableTime(a.Deadline),
		a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("report %s already has an active alert: %w", a.ReportID, ent.ErrConflict)
		}
		return fmt.Errorf("%w: failed to create alert: %v", ent.ErrPersistence, err)
	}
	return nil
}

// Update writes the mutable part of the aggregate: level, status, assignee,
// deadline.
func (s *AlertStore) Update(ctx context.Context, a ent.Alert) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET level = ?, status = ?, assignee_id = ?, deadline = ?, updated_at = ? WHERE id = ?`,
		a.Level, string(a.Status), a.AssigneeID, nullableTime(a.Deadline), a.UpdatedAt.UnixNano(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update alert: %v", ent.ErrPersistence, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ent.ErrPersistence, err)
	}
	if n == 0 {
		return fmt.Errorf("alert %s: %w", a.ID, ent.ErrNotFound)
	}
	return nil
}

func (s *AlertStore) Get(ctx context.Context, id string) (ent.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ent.Alert{}, fmt.Errorf("alert %s: %w", id, ent.ErrNotFound)
	}
	return a, err
}

// GetActiveByReport returns the active alert tracking reportID.
func (s *AlertStore) GetActiveByReport(ctx context.Context, reportID string) (ent.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE report_id = ? AND status = 'active'`, reportID)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ent.Alert{}, fmt.Errorf("active alert for report %s: %w", reportID, ent.ErrNotFound)
	}
	return a, err
}

// ListActive returns every active alert, oldest first.
func (s *AlertStore) ListActive(ctx context.Context) ([]ent.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE status = 'active' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []ent.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (ent.Alert, error) {
	var (
		a         ent.Alert
		ruleJSON  string
		status    string
		deadline  sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&a.ID, &a.ReportID, &a.IssueType, &a.Severity, &a.Location, &a.Description,
		&ruleJSON, &a.Level, &status, &a.AssigneeID, &deadline, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ent.Alert{}, err
		}
		return ent.Alert{}, fmt.Errorf("failed to scan alert: %w", err)
	}
	if err := json.Unmarshal([]byte(ruleJSON), &a.Rule); err != nil {
		return ent.Alert{}, fmt.Errorf("failed to decode rule snapshot of %s: %w", a.ID, err)
	}
	a.Status = ent.AlertStatus(status)
	if deadline.Valid {
		a.Deadline = time.Unix(0, deadline.Int64)
	}
	a.CreatedAt = time.Unix(0, createdAt)
	a.UpdatedAt = time.Unix(0, updatedAt)
	return a, nil
}

func nullableTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
