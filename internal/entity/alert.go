package ent

import (
	"time"
)

const (
	MaxMsgLength   = 4096
	FiringEmoji    = "❗️"
	EscalatedEmoji = "⏫"
	ResolvedEmoji  = "✅"
)

type AlertStatus string

const (
	StatusActive    AlertStatus = "active"
	StatusResolved  AlertStatus = "resolved"
	StatusExhausted AlertStatus = "exhausted"
)

// Terminal reports whether no further dispatch may happen for the alert.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusExhausted
}

// Report is the subset of a civic report the engine needs.
type Report struct {
	ID          string `json:"report_id"`
	IssueType   string `json:"issue_type"`
	Severity    string `json:"severity"`
	Location    string `json:"location"`
	Description string `json:"description"`
}

// Alert tracks one report through its escalation chain.
type Alert struct {
	ID          string      `json:"id"`
	ReportID    string      `json:"report_id"`
	IssueType   string      `json:"issue_type"`
	Severity    string      `json:"severity"`
	Location    string      `json:"location"`
	Description string      `json:"description"`
	Rule        AlertRule   `json:"rule"`
	Level       int         `json:"level"`
	Status      AlertStatus `json:"status"`
	AssigneeID  string      `json:"assignee_id,omitempty"`
	Deadline    time.Time   `json:"deadline,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Report returns the report fields the alert was created from.
func (a Alert) Report() Report {
	return Report{
		ID:          a.ReportID,
		IssueType:   a.IssueType,
		Severity:    a.Severity,
		Location:    a.Location,
		Description: a.Description,
	}
}

// ReportStatus is what the report service answers for a status poll.
type ReportStatus struct {
	Resolved bool `json:"resolved"`
}

// ExhaustionEvent is raised when every level of an alert's chain was
// notified and the report is still unresolved.
type ExhaustionEvent struct {
	AlertID     string    `json:"alert_id"`
	ReportID    string    `json:"report_id"`
	IssueType   string    `json:"issue_type"`
	Severity    string    `json:"severity"`
	Location    string    `json:"location"`
	Level       int       `json:"level"`
	Recipients  []string  `json:"recipients"`
	CreatedAt   time.Time `json:"created_at"`
	ExhaustedAt time.Time `json:"exhausted_at"`
}
