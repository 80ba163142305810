package app

import (
	"fmt"
	"strings"
	"time"

	ent "CivicAlertManager/internal/entity"
)

const timestampLayout = "Jan 02, 15:04:05"

// FormatAlertMessage renders the text every channel sends for one level.
func FormatAlertMessage(alert ent.Alert, authority ent.Authority, estimate time.Duration, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}

	emoji := ent.FiringEmoji
	header := "NEW ALERT"
	if alert.Level > 0 {
		emoji = ent.EscalatedEmoji
		header = fmt.Sprintf("ESCALATED (level %d)", alert.Level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s for %s\n", emoji, header, authority.Name)
	fmt.Fprintf(&b, "🔔 Issue: %s (%s)\n", alert.IssueType, strings.ToUpper(alert.Severity))
	fmt.Fprintf(&b, "📍 Location: %s\n", alert.Location)
	if alert.Description != "" {
		fmt.Fprintf(&b, "📝 Description: %s\n", alert.Description)
	}
	if estimate > 0 {
		fmt.Fprintf(&b, "⏱ Expected response: %s\n", estimate.Round(time.Minute))
	}
	fmt.Fprintf(&b, "🆔 Report: %s\n", alert.ReportID)
	created := alert.CreatedAt.In(loc)
	fmt.Fprintf(&b, "🕒 Reported at: %s %s", created.Format(timestampLayout), created.Format("MST"))

	return b.String()
}
