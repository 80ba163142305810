package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"CivicAlertManager/internal/clock"
	ent "CivicAlertManager/internal/entity"
	"CivicAlertManager/internal/metrics"
	"CivicAlertManager/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, address, reportID, message string) error {
	return m.Called(address, reportID).Error(0)
}

// sendsTo counts calls addressed to address.
func (m *mockSender) sendsTo(address string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Arguments.String(0) == address {
			n++
		}
	}
	return n
}

type confirmingSender struct {
	*mockSender
}

func (confirmingSender) ConfirmsDelivery() bool { return true }

// fakeStatus answers status polls from a map. When hang is set every poll
// blocks until the channel is closed.
type fakeStatus struct {
	mu       sync.Mutex
	resolved map[string]bool
	hang     chan struct{}
	polls    int
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{resolved: make(map[string]bool)}
}

func (f *fakeStatus) resolve(reportID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[reportID] = true
}

func (f *fakeStatus) GetReportStatus(ctx context.Context, reportID string) (ent.ReportStatus, error) {
	f.mu.Lock()
	f.polls++
	hang := f.hang
	resolved := f.resolved[reportID]
	f.mu.Unlock()

	if hang != nil {
		<-hang
		return ent.ReportStatus{}, errors.New("released")
	}
	return ent.ReportStatus{Resolved: resolved}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []ent.ExhaustionEvent
}

func (s *recordingSink) ChainExhausted(_ context.Context, ev ent.ExhaustionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []ent.ExhaustionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ent.ExhaustionEvent(nil), s.events...)
}

func testAuthorities() []ent.Authority {
	return []ent.Authority{
		{
			ID: "pwd-engineer", Name: "PWD Engineer", Jurisdiction: "mumbai/ward-12",
			Responsibilities: []string{"roads"}, Tier: 1, TargetResponse: 4 * time.Hour,
			Contacts: map[ent.Channel]string{ent.ChannelEmail: "pwd@civic.test", ent.ChannelSMS: "+911000"},
		},
		{
			ID: "ward-officer", Name: "Ward Officer", Jurisdiction: "mumbai/ward-12",
			Responsibilities: []string{"roads", "garbage"}, Tier: 2, TargetResponse: 12 * time.Hour,
			Contacts: map[ent.Channel]string{ent.ChannelEmail: "ward@civic.test", ent.ChannelSMS: "+912000"},
		},
		{
			ID: "corporator", Name: "Corporator", Jurisdiction: "mumbai",
			Responsibilities: []string{"roads"}, Tier: 3, TargetResponse: 24 * time.Hour,
			Contacts: map[ent.Channel]string{ent.ChannelEmail: "corp@civic.test", ent.ChannelSMS: "+913000"},
		},
		{
			ID: "help-desk", Name: "Civic Help Desk", Jurisdiction: "*",
			Responsibilities: []string{"general"}, Tier: 9, TargetResponse: 48 * time.Hour,
			Contacts: map[ent.Channel]string{ent.ChannelEmail: "desk@civic.test"},
		},
	}
}

func testRules() []ent.AlertRule {
	return []ent.AlertRule{
		{
			Key:     ent.RuleKey{IssueType: "roads", Severity: "critical"},
			Primary: "pwd-engineer", Chain: []string{"pwd-engineer", "ward-officer", "corporator"},
			Timeout: 6 * time.Hour, Channels: []ent.Channel{ent.ChannelEmail, ent.ChannelSMS},
			AutoEscalate: true,
		},
		{
			Key:     ent.RuleKey{IssueType: "garbage", Severity: "default"},
			Primary: ent.AutoPrimary, Chain: []string{"corporator"},
			Timeout: 24 * time.Hour, Channels: []ent.Channel{ent.ChannelEmail},
			AutoEscalate: true,
		},
		{
			Key:     ent.GlobalDefaultKey,
			Primary: "help-desk", Timeout: 48 * time.Hour,
			Channels: []ent.Channel{ent.ChannelEmail},
		},
	}
}

type harnessSetup struct {
	authorities   []ent.Authority
	rules         []ent.AlertRule
	failing       []string
	statusTimeout time.Duration
}

type harness struct {
	t         *testing.T
	setup     harnessSetup
	clock     *clock.Fake
	directory *repo.Directory
	rules     *repo.RuleTable
	alerts    AlertStore
	history   *repo.HistoryStore
	email     *mockSender
	sms       *mockSender
	status    *fakeStatus
	sink      *recordingSink
	metrics   *metrics.Recorder
	scheduler *Scheduler
}

func newHarness(t *testing.T, opts ...func(*harnessSetup)) *harness {
	t.Helper()
	setup := harnessSetup{
		authorities:   testAuthorities(),
		rules:         testRules(),
		statusTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&setup)
	}

	db, err := repo.OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		t:       t,
		setup:   setup,
		clock:   clock.NewFake(t0),
		alerts:  repo.NewAlertStore(db),
		history: repo.NewHistoryStore(db),
		email:   new(mockSender),
		sms:     new(mockSender),
		status:  newFakeStatus(),
		sink:    &recordingSink{},
	}
	for _, addr := range setup.failing {
		h.email.On("Send", addr, mock.Anything).Return(errors.New("gateway down"))
		h.sms.On("Send", addr, mock.Anything).Return(errors.New("gateway down"))
	}
	h.email.On("Send", mock.Anything, mock.Anything).Return(nil)
	h.sms.On("Send", mock.Anything, mock.Anything).Return(nil)

	h.rules, err = repo.NewRuleTable(setup.rules)
	require.NoError(t, err)
	h.start()
	return h
}

// start builds a fresh scheduler and directory over the same stores, the way
// a restarted process would.
func (h *harness) start() {
	h.t.Helper()
	var err error
	h.directory, err = repo.NewDirectory(h.setup.authorities, h.clock, time.UTC)
	require.NoError(h.t, err)

	h.metrics = metrics.NewRecorder(nil)
	logger := zaptest.NewLogger(h.t)
	estimator := NewEstimator(DefaultWorkloadThreshold)
	dispatcher := NewDispatcher(map[ent.Channel]Sender{
		ent.ChannelEmail: h.email,
		ent.ChannelSMS:   h.sms,
	}, h.history, DispatcherOptions{
		SendTimeout: time.Second,
		Estimator:   estimator,
		Clock:       h.clock,
		Metrics:     h.metrics,
		Logger:      logger,
	})

	h.scheduler, err = NewScheduler(SchedulerDeps{
		Rules:      h.rules,
		Directory:  h.directory,
		Dispatcher: dispatcher,
		Estimator:  estimator,
		Alerts:     h.alerts,
		History:    h.history,
		Status:     h.status,
		Sink:       h.sink,
		Clock:      h.clock,
		Metrics:    h.metrics,
		Logger:     logger,
	}, SchedulerConfig{
		DefaultAuthority: "help-desk",
		StatusTimeout:    h.setup.statusTimeout,
	})
	require.NoError(h.t, err)
	h.t.Cleanup(h.scheduler.Close)
}

func (h *harness) restart() {
	h.scheduler.Close()
	h.start()
}

func (h *harness) create(reportID, issueType, severity, location string) ent.Alert {
	h.t.Helper()
	a, err := h.scheduler.CreateAlert(context.Background(), ent.Report{
		ID:          reportID,
		IssueType:   issueType,
		Severity:    severity,
		Location:    location,
		Description: "reported by a citizen",
	})
	require.NoError(h.t, err)
	return a
}

func (h *harness) get(alertID string) ent.Alert {
	h.t.Helper()
	a, err := h.scheduler.Get(context.Background(), alertID)
	require.NoError(h.t, err)
	return a
}

func (h *harness) attempts(alertID string) []ent.NotificationAttempt {
	h.t.Helper()
	list, err := h.history.ListByAlert(context.Background(), alertID)
	require.NoError(h.t, err)
	return list
}

func (h *harness) workload(authorityID string) int {
	h.t.Helper()
	a, err := h.directory.Get(authorityID)
	require.NoError(h.t, err)
	return a.Workload
}

func authoritiesOf(attempts []ent.NotificationAttempt) []string {
	var out []string
	seen := map[string]bool{}
	for _, at := range attempts {
		if !seen[at.AuthorityID] {
			seen[at.AuthorityID] = true
			out = append(out, at.AuthorityID)
		}
	}
	return out
}
