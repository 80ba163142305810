package repo

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ent "CivicAlertManager/internal/entity"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testAlert(id, reportID string) ent.Alert {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return ent.Alert{
		ID:          id,
		ReportID:    reportID,
		IssueType:   "pothole",
		Severity:    "high",
		Location:    "mumbai/ward-12/ghatkopar",
		Description: "deep pothole near the station",
		Rule:        testRules()[0],
		Status:      ent.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestAlertStoreCreateAndGet(t *testing.T) {
	store := NewAlertStore(setupTestDB(t))
	ctx := context.Background()

	a := testAlert("a-1", "r-1")
	require.NoError(t, store.Create(ctx, a))

	got, err := store.Get(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", got.ReportID)
	assert.Equal(t, ent.StatusActive, got.Status)
	assert.Equal(t, a.Rule, got.Rule)
	assert.True(t, got.Deadline.IsZero())
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ent.ErrNotFound))
}

func TestAlertStoreOneActivePerReport(t *testing.T) {
	store := NewAlertStore(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testAlert("a-1", "r-1")))

	err := store.Create(ctx, testAlert("a-2", "r-1"))
	assert.True(t, errors.Is(err, ent.ErrConflict))

	// once resolved, the report may be alerted again
	a, _ := store.Get(ctx, "a-1")
	a.Status = ent.StatusResolved
	require.NoError(t, store.Update(ctx, a))
	assert.NoError(t, store.Create(ctx, testAlert("a-2", "r-1")))
}

func TestAlertStoreUpdate(t *testing.T) {
	store := NewAlertStore(setupTestDB(t))
	ctx := context.Background()

	a := testAlert("a-1", "r-1")
	require.NoError(t, store.Create(ctx, a))

	deadline := a.CreatedAt.Add(6 * time.Hour)
	a.Level = 1
	a.AssigneeID = "ward-officer"
	a.Deadline = deadline
	a.UpdatedAt = a.CreatedAt.Add(time.Minute)
	require.NoError(t, store.Update(ctx, a))

	got, err := store.GetActiveByReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Level)
	assert.Equal(t, "ward-officer", got.AssigneeID)
	assert.True(t, deadline.Equal(got.Deadline))

	missing := testAlert("nope", "r-9")
	assert.True(t, errors.Is(store.Update(ctx, missing), ent.ErrNotFound))
}

func TestAlertStoreListActive(t *testing.T) {
	store := NewAlertStore(setupTestDB(t))
	ctx := context.Background()

	first := testAlert("a-1", "r-1")
	second := testAlert("a-2", "r-2")
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	done := testAlert("a-3", "r-3")
	done.Status = ent.StatusExhausted

	for _, a := range []ent.Alert{second, done, first} {
		require.NoError(t, store.Create(ctx, a))
	}

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a-1", active[0].ID)
	assert.Equal(t, "a-2", active[1].ID)

	_, err = store.GetActiveByReport(ctx, "r-3")
	assert.True(t, errors.Is(err, ent.ErrNotFound))
}

func TestAlertStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "alerts.db")
	ctx := context.Background()

	db, err := OpenDB(path)
	require.NoError(t, err)
	a := testAlert("a-1", "r-1")
	a.Deadline = a.CreatedAt.Add(time.Hour)
	require.NoError(t, NewAlertStore(db).Create(ctx, a))
	require.NoError(t, db.Close())

	db, err = OpenDB(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := NewAlertStore(db).Get(ctx, "a-1")
	require.NoError(t, err)
	assert.True(t, a.Deadline.Equal(got.Deadline))
}

func TestHistoryStoreAppendAndList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, NewAlertStore(db).Create(ctx, testAlert("a-1", "r-1")))
	history := NewHistoryStore(db)

	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, at := range []ent.NotificationAttempt{
		{AlertID: "a-1", AuthorityID: "pwd-engineer", Channel: ent.ChannelEmail, Level: 0, Outcome: ent.OutcomeFailed, Detail: "smtp down", Timestamp: ts},
		{AlertID: "a-1", AuthorityID: "pwd-engineer", Channel: ent.ChannelSMS, Level: 0, Outcome: ent.OutcomeSent, Timestamp: ts},
		{AlertID: "a-1", AuthorityID: "ward-officer", Channel: ent.ChannelChat, Level: 1, Outcome: ent.OutcomeDelivered, Timestamp: ts.Add(6 * time.Hour)},
	} {
		saved, err := history.Append(ctx, at)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), saved.ID)
	}

	list, err := history.ListByAlert(ctx, "a-1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, ent.ChannelEmail, list[0].Channel)
	assert.Equal(t, "smtp down", list[0].Detail)
	assert.Equal(t, ent.OutcomeDelivered, list[2].Outcome)
	assert.True(t, ts.Add(6*time.Hour).Equal(list[2].Timestamp))

	empty, err := history.ListByAlert(ctx, "a-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryStoreHasAttemptCountsSuccessOnly(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, NewAlertStore(db).Create(ctx, testAlert("a-1", "r-1")))
	history := NewHistoryStore(db)

	_, err := history.Append(ctx, ent.NotificationAttempt{
		AlertID: "a-1", AuthorityID: "pwd-engineer", Channel: ent.ChannelEmail,
		Level: 0, Outcome: ent.OutcomeFailed, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	ok, err := history.HasAttempt(ctx, "a-1", "pwd-engineer", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = history.Append(ctx, ent.NotificationAttempt{
		AlertID: "a-1", AuthorityID: "pwd-engineer", Channel: ent.ChannelSMS,
		Level: 0, Outcome: ent.OutcomeSent, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	ok, err = history.HasAttempt(ctx, "a-1", "pwd-engineer", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = history.HasAttempt(ctx, "a-1", "pwd-engineer", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryStoreRejectsUnknownAlert(t *testing.T) {
	history := NewHistoryStore(setupTestDB(t))

	_, err := history.Append(context.Background(), ent.NotificationAttempt{
		AlertID: "ghost", AuthorityID: "x", Channel: ent.ChannelEmail,
		Outcome: ent.OutcomeSent, Timestamp: time.Now(),
	})
	assert.True(t, errors.Is(err, ent.ErrPersistence))
}
