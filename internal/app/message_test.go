package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ent "CivicAlertManager/internal/entity"
)

func TestFormatAlertMessage(t *testing.T) {
	alert := ent.Alert{
		ReportID: "R1", IssueType: "roads", Severity: "critical",
		Location: ghatkopar, Description: "Crater on LBS Marg", CreatedAt: t0,
	}
	authority := testAuthorities()[0]

	msg := FormatAlertMessage(alert, authority, 4*time.Hour, nil)
	assert.Contains(t, msg, ent.FiringEmoji+" NEW ALERT for PWD Engineer")
	assert.Contains(t, msg, "Issue: roads (CRITICAL)")
	assert.Contains(t, msg, "Location: "+ghatkopar)
	assert.Contains(t, msg, "Crater on LBS Marg")
	assert.Contains(t, msg, "Expected response: 4h0m0s")
	assert.Contains(t, msg, "Reported at: Mar 01, 09:00:00 UTC")

	alert.Level = 2
	alert.Description = ""
	ist := time.FixedZone("IST", 5*3600+1800)
	msg = FormatAlertMessage(alert, authority, 0, ist)
	assert.Contains(t, msg, ent.EscalatedEmoji+" ESCALATED (level 2)")
	assert.NotContains(t, msg, "Description")
	assert.NotContains(t, msg, "Expected response")
	assert.Contains(t, msg, "Mar 01, 14:30:00 IST")
}
