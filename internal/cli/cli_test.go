package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"CivicAlertManager/internal/clock"
	"CivicAlertManager/internal/config"
	ent "CivicAlertManager/internal/entity"
	"CivicAlertManager/internal/repo"
)

const testConfig = `
database:
  path: %s
authorities:
  - id: pwd-engineer
    name: PWD Engineer
    jurisdiction: mumbai
    responsibilities: [roads]
    contacts:
      email: pwd@civic.test
  - id: help-desk
    name: Help Desk
    jurisdiction: "*"
    responsibilities: [general]
    contacts:
      email: desk@civic.test
rules:
  - issue_type: roads
    severity: critical
    primary: pwd-engineer
    chain: [help-desk]
    timeout: 6h
    channels: [email]
  - issue_type: general
    severity: low
    primary: help-desk
    timeout: 48h
    channels: [email]
    auto_escalate: false
`

func writeTestConfig(t *testing.T) (path, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "alerts.db")
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, dbPath)), 0o600))
	return path, dbPath
}

// TestValidateCmd checks the summary of a valid config
func TestValidateCmd(t *testing.T) {
	path, _ := writeTestConfig(t)

	cmd := ValidateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "authorities: 2")
	assert.Contains(t, out.String(), "roads/critical")
	assert.Contains(t, out.String(), "manual escalation")
}

// TestValidateCmdMissingFile checks load errors are returned
func TestValidateCmdMissingFile(t *testing.T) {
	cmd := ValidateCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, cmd.Execute())
}

// TestHistoryCmd checks the audit trail is printed from the database
func TestHistoryCmd(t *testing.T) {
	path, dbPath := writeTestConfig(t)

	db, err := repo.OpenDB(dbPath)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	alert := ent.Alert{
		ID: "a-1", ReportID: "r-1", IssueType: "roads", Severity: "critical",
		Rule:   ent.AlertRule{Key: ent.RuleKey{IssueType: "roads", Severity: "critical"}, Primary: "pwd-engineer"},
		Status: ent.StatusActive, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, repo.NewAlertStore(db).Create(context.Background(), alert))
	_, err = repo.NewHistoryStore(db).Append(context.Background(), ent.NotificationAttempt{
		AlertID: "a-1", AuthorityID: "pwd-engineer", Channel: ent.ChannelEmail,
		Outcome: ent.OutcomeFailed, Detail: "channel send failed: gateway down", Timestamp: now,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cmd := HistoryCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", path, "a-1"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "Alert a-1 (report r-1, roads/critical)")
	assert.Contains(t, out.String(), "pwd-engineer")
	assert.Contains(t, out.String(), "gateway down")
}

// TestHistoryCmdUnknownAlert checks a missing alert is an error
func TestHistoryCmdUnknownAlert(t *testing.T) {
	path, _ := writeTestConfig(t)

	cmd := HistoryCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"--config", path, "nope"})
	assert.ErrorIs(t, cmd.Execute(), ent.ErrNotFound)
}

// TestNewLogger checks level and format parsing
func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

// TestCatalogReload checks a reload keeps workload and rejects bad rules
func TestCatalogReload(t *testing.T) {
	path, _ := writeTestConfig(t)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	cat, err := buildCatalog(cfg, clock.NewFake(time.Now()))
	require.NoError(t, err)
	_, err = cat.directory.AdjustWorkload("pwd-engineer", 3)
	require.NoError(t, err)

	next, err := config.Load(path)
	require.NoError(t, err)
	next.Rules[0].Timeout = 2 * time.Hour
	require.NoError(t, cat.reload(next))

	rule, err := cat.rules.Resolve("roads", "critical")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, rule.Timeout)
	a, err := cat.directory.Get("pwd-engineer")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Workload)

	next.Rules = next.Rules[:1]
	assert.ErrorIs(t, cat.reload(next), ent.ErrInvalidConfig)
	rule, err = cat.rules.Resolve("general", "low")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, rule.Timeout)
}

// TestBuildSenders checks only configured channels get a sender
func TestBuildSenders(t *testing.T) {
	senders, bot, err := buildSenders(config.ChannelsConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, senders)
	assert.Nil(t, bot)

	senders, _, err = buildSenders(config.ChannelsConfig{
		SMTP: config.SMTPConfig{Host: "smtp.civic.test"},
		SMS:  config.SMSConfig{URL: "http://sms.civic.test", Token: "t", ClientID: "c"},
		Push: config.PushConfig{URL: "http://push.civic.test"},
	}, zap.NewNop())
	require.NoError(t, err)
	assert.Contains(t, senders, ent.ChannelEmail)
	assert.Contains(t, senders, ent.ChannelSMS)
	assert.Contains(t, senders, ent.ChannelPush)
	assert.NotContains(t, senders, ent.ChannelChat)
}
