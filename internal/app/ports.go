package app

import (
	"context"

	ent "CivicAlertManager/internal/entity"
)

// Sender is one outbound notification channel.
type Sender interface {
	Send(ctx context.Context, address, reportID, message string) error
}

// DeliveryConfirmer is implemented by senders whose success means the
// message reached the recipient, not only the gateway.
type DeliveryConfirmer interface {
	ConfirmsDelivery() bool
}

type HistoryStore interface {
	Append(ctx context.Context, at ent.NotificationAttempt) (ent.NotificationAttempt, error)
	HasAttempt(ctx context.Context, alertID, authorityID string, level int) (bool, error)
	ListByAlert(ctx context.Context, alertID string) ([]ent.NotificationAttempt, error)
}

type AlertStore interface {
	Create(ctx context.Context, a ent.Alert) error
	Update(ctx context.Context, a ent.Alert) error
	Get(ctx context.Context, id string) (ent.Alert, error)
	GetActiveByReport(ctx context.Context, reportID string) (ent.Alert, error)
	ListActive(ctx context.Context) ([]ent.Alert, error)
}

type AuthorityDirectory interface {
	Find(jurisdiction, issueType string) ([]ent.Authority, error)
	Get(id string) (ent.Authority, error)
	Effective(a ent.Authority) ent.Availability
	AdjustWorkload(id string, delta int) (int, error)
	SetAvailability(id string, state ent.Availability) error
}

type RuleResolver interface {
	Resolve(issueType, severity string) (ent.AlertRule, error)
}

// StatusChecker is the report service boundary polled on timer expiry.
type StatusChecker interface {
	GetReportStatus(ctx context.Context, reportID string) (ent.ReportStatus, error)
}

// ExhaustionSink receives alerts whose chain ran out.
type ExhaustionSink interface {
	ChainExhausted(ctx context.Context, ev ent.ExhaustionEvent) error
}
