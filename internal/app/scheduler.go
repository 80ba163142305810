package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"CivicAlertManager/internal/clock"
	ent "CivicAlertManager/internal/entity"
	"CivicAlertManager/internal/metrics"
	"CivicAlertManager/internal/repo"
)

const (
	DefaultStatusTimeout = 2 * time.Second
	DefaultRetryDelay    = 30 * time.Second

	sinkTimeout = 5 * time.Second
)

type SchedulerConfig struct {
	// DefaultAuthority receives level 0 when neither the rule's primary nor
	// the directory yields a recipient.
	DefaultAuthority string
	StatusTimeout    time.Duration
	// RetryDelay is how long an alert whose escalation could not be
	// persisted waits before the same transition is tried again.
	RetryDelay time.Duration
}

type SchedulerDeps struct {
	Rules      RuleResolver
	Directory  AuthorityDirectory
	Dispatcher *Dispatcher
	Estimator  *Estimator
	Alerts     AlertStore
	History    HistoryStore
	Status     StatusChecker
	Sink       ExhaustionSink
	Clock      clock.Clock
	Metrics    *metrics.Recorder
	Logger     *zap.Logger
}

// Scheduler drives every active alert through its escalation chain. Each
// alert is a task with its own lock and at most one armed timer.
type Scheduler struct {
	rules      RuleResolver
	directory  AuthorityDirectory
	dispatcher *Dispatcher
	estimator  *Estimator
	alerts     AlertStore
	history    HistoryStore
	status     StatusChecker
	sink       ExhaustionSink
	clock      clock.Clock
	metrics    *metrics.Recorder
	logger     *zap.Logger
	cfg        SchedulerConfig

	// mu guards the maps only. It is never held while a task lock is taken.
	mu       sync.Mutex
	tasks    map[string]*alertTask
	byReport map[string]string

	creates singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
}

type alertTask struct {
	mu     sync.Mutex
	alert  ent.Alert
	timer  clock.Timer
	closed bool
}

func (t *alertTask) snapshot() ent.Alert {
	a := t.alert
	a.Rule = a.Rule.Clone()
	return a
}

type createResult struct {
	alert   ent.Alert
	created bool
}

func NewScheduler(deps SchedulerDeps, cfg SchedulerConfig) (*Scheduler, error) {
	switch {
	case deps.Rules == nil:
		return nil, fmt.Errorf("%w: scheduler needs a rule table", ent.ErrInvalidConfig)
	case deps.Directory == nil:
		return nil, fmt.Errorf("%w: scheduler needs an authority directory", ent.ErrInvalidConfig)
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("%w: scheduler needs a dispatcher", ent.ErrInvalidConfig)
	case deps.Alerts == nil || deps.History == nil:
		return nil, fmt.Errorf("%w: scheduler needs alert and history stores", ent.ErrInvalidConfig)
	}

	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Estimator == nil {
		deps.Estimator = NewEstimator(DefaultWorkloadThreshold)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRecorder(nil)
	}
	if deps.Sink == nil {
		deps.Sink = repo.NewLogDeadLetter(deps.Logger)
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		rules:      deps.Rules,
		directory:  deps.Directory,
		dispatcher: deps.Dispatcher,
		estimator:  deps.Estimator,
		alerts:     deps.Alerts,
		history:    deps.History,
		status:     deps.Status,
		sink:       deps.Sink,
		clock:      deps.Clock,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        cfg,
		tasks:      make(map[string]*alertTask),
		byReport:   make(map[string]string),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// CreateAlert starts escalation for a report. Calling it again for a report
// that already has an active alert returns that alert.
func (s *Scheduler) CreateAlert(ctx context.Context, r ent.Report) (ent.Alert, error) {
	a, _, err := s.Submit(ctx, r)
	return a, err
}

// Submit is CreateAlert that also reports whether this call created the alert.
func (s *Scheduler) Submit(ctx context.Context, r ent.Report) (ent.Alert, bool, error) {
	if err := validateReport(r); err != nil {
		return ent.Alert{}, false, err
	}
	if a, ok := s.activeAlert(r.ID); ok {
		return a, false, nil
	}

	executed := false
	v, err, _ := s.creates.Do(r.ID, func() (any, error) {
		executed = true
		return s.create(ctx, r)
	})
	if err != nil {
		return ent.Alert{}, false, err
	}
	res := v.(createResult)
	return res.alert, res.created && executed, nil
}

func validateReport(r ent.Report) error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: report id is required", ent.ErrInvalidReport)
	}
	if strings.TrimSpace(r.IssueType) == "" {
		return fmt.Errorf("%w: issue type is required", ent.ErrInvalidReport)
	}
	return nil
}

func (s *Scheduler) create(ctx context.Context, r ent.Report) (createResult, error) {
	if a, ok := s.activeAlert(r.ID); ok {
		return createResult{alert: a}, nil
	}
	existing, err := s.alerts.GetActiveByReport(ctx, r.ID)
	switch {
	case err == nil:
		return s.adopt(existing)
	case !errors.Is(err, ent.ErrNotFound):
		return createResult{}, fmt.Errorf("failed to look up active alert for report %s: %w", r.ID, err)
	}

	rule, err := s.rules.Resolve(r.IssueType, r.Severity)
	if err != nil {
		return createResult{}, fmt.Errorf("failed to resolve rule for report %s: %w", r.ID, err)
	}
	if requested := ent.NewRuleKey(r.IssueType, r.Severity); rule.Key != requested {
		s.logger.Warn("no exact rule for report, using fallback",
			zap.String("report_id", r.ID),
			zap.String("requested", requested.String()),
			zap.String("matched", rule.Key.String()),
		)
		s.metrics.Fallback("rule")
	}

	now := s.clock.Now()
	task := &alertTask{alert: ent.Alert{
		ID:          uuid.NewString(),
		ReportID:    r.ID,
		IssueType:   r.IssueType,
		Severity:    r.Severity,
		Location:    r.Location,
		Description: r.Description,
		Rule:        rule,
		Level:       0,
		Status:      ent.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}

	// Registered while locked so concurrent resolution waits for the first
	// dispatch instead of missing the alert.
	task.mu.Lock()
	defer task.mu.Unlock()
	s.register(task)

	if err := s.alerts.Create(ctx, task.alert); err != nil {
		s.abandon(task)
		if errors.Is(err, ent.ErrConflict) {
			if existing, gerr := s.alerts.GetActiveByReport(ctx, r.ID); gerr == nil {
				return s.adopt(existing)
			}
		}
		return createResult{}, fmt.Errorf("failed to create alert for report %s: %w", r.ID, err)
	}
	s.metrics.AlertOpened()
	s.logger.Info("alert created",
		zap.String("alert_id", task.alert.ID),
		zap.String("report_id", r.ID),
		zap.String("rule", rule.Key.String()),
		zap.Strings("recipients", rule.Recipients()),
	)

	if err := s.notifyFrom(task, 0, ""); err != nil {
		if s.abandon(task) {
			s.release(task)
			s.metrics.AlertClosed()
		}
		return createResult{}, fmt.Errorf("failed to start escalation for report %s: %w", r.ID, err)
	}
	return createResult{alert: task.snapshot(), created: true}, nil
}

// adopt takes over an alert that is active in the store but has no task in
// this process, such as one left behind by a create that failed after its
// row was written. The alert resumes from its stored deadline.
func (s *Scheduler) adopt(a ent.Alert) (createResult, error) {
	task := &alertTask{alert: a}
	task.mu.Lock()
	defer task.mu.Unlock()
	if !s.registerIfAbsent(task) {
		return createResult{alert: a}, nil
	}
	s.metrics.AlertOpened()
	if a.AssigneeID != "" {
		s.adjustWorkload(a.AssigneeID, 1)
	}
	s.logger.Warn("resuming active alert with no running escalation",
		zap.String("alert_id", a.ID),
		zap.String("report_id", a.ReportID),
		zap.Int("level", a.Level),
	)

	var err error
	switch now := s.clock.Now(); {
	case a.Deadline.IsZero():
		err = s.advance(task, a.Level, "")
	case a.Deadline.After(now):
		s.arm(task, a.Deadline.Sub(now))
	default:
		err = s.expire(task)
	}
	if err != nil && task.timer == nil {
		if s.abandon(task) {
			s.release(task)
			s.metrics.AlertClosed()
		}
		return createResult{}, fmt.Errorf("failed to resume alert %s: %w", a.ID, err)
	}
	return createResult{alert: task.snapshot()}, nil
}

// ReportResolved is the report service's resolution signal.
func (s *Scheduler) ReportResolved(ctx context.Context, reportID string) error {
	s.logger.Info("report resolved", zap.String("report_id", reportID))
	return s.CancelAlert(ctx, reportID)
}

// CancelAlert stops escalation of the report's active alert. Unknown and
// already terminal alerts are a no-op.
func (s *Scheduler) CancelAlert(ctx context.Context, reportID string) error {
	task := s.taskByReport(reportID)
	if task == nil {
		return s.cancelStored(ctx, reportID)
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	if task.closed || task.alert.Status.Terminal() {
		return nil
	}
	return s.resolve(task, "cancelled")
}

// cancelStored resolves an alert that is active in the store but was never
// loaded, which happens when a signal arrives before Recover.
func (s *Scheduler) cancelStored(ctx context.Context, reportID string) error {
	a, err := s.alerts.GetActiveByReport(ctx, reportID)
	if errors.Is(err, ent.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up alert for report %s: %w", reportID, err)
	}
	a.Status = ent.StatusResolved
	a.Deadline = time.Time{}
	a.UpdatedAt = s.clock.Now()
	return s.alerts.Update(ctx, a)
}

// EscalateNow moves the report's active alert to its next level without
// waiting for the timer.
func (s *Scheduler) EscalateNow(ctx context.Context, reportID string) error {
	task := s.taskByReport(reportID)
	if task == nil {
		return fmt.Errorf("no active alert for report %s: %w", reportID, ent.ErrNotFound)
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	if task.closed || task.alert.Status != ent.StatusActive {
		return fmt.Errorf("no active alert for report %s: %w", reportID, ent.ErrNotFound)
	}
	s.stopTimer(task)
	s.logger.Info("manual escalation requested",
		zap.String("alert_id", task.alert.ID),
		zap.Int("level", task.alert.Level),
	)
	return s.advance(task, task.alert.Level+1, metrics.ReasonManual)
}

func (s *Scheduler) Get(ctx context.Context, alertID string) (ent.Alert, error) {
	if task := s.task(alertID); task != nil {
		task.mu.Lock()
		defer task.mu.Unlock()
		return task.snapshot(), nil
	}
	return s.alerts.Get(ctx, alertID)
}

// History returns the alert's notification attempts in append order.
func (s *Scheduler) History(ctx context.Context, alertID string) ([]ent.NotificationAttempt, error) {
	if _, err := s.Get(ctx, alertID); err != nil {
		return nil, err
	}
	return s.history.ListByAlert(ctx, alertID)
}

func (s *Scheduler) SetAvailability(authorityID string, state ent.Availability) error {
	if err := s.directory.SetAvailability(authorityID, state); err != nil {
		return err
	}
	s.logger.Info("authority availability changed",
		zap.String("authority_id", authorityID),
		zap.String("availability", string(state)),
	)
	return nil
}

// Recover loads the active alerts of a previous run. Future deadlines are
// re-armed with the remaining time, passed deadlines fire at once, and
// alerts interrupted mid-dispatch are notified again at their stored level.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	alerts, err := s.alerts.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load active alerts: %w", err)
	}

	type overdue struct {
		id    string
		level int
	}
	var (
		now      = s.clock.Now()
		due      []overdue
		pending  []*alertTask
		restored int
	)
	for _, a := range alerts {
		task := &alertTask{alert: a}
		if !s.registerIfAbsent(task) {
			continue
		}
		s.metrics.AlertOpened()
		restored++
		if a.AssigneeID != "" {
			s.adjustWorkload(a.AssigneeID, 1)
		}

		switch {
		case a.Deadline.IsZero():
			pending = append(pending, task)
		case a.Deadline.After(now):
			task.mu.Lock()
			s.arm(task, a.Deadline.Sub(now))
			task.mu.Unlock()
		default:
			due = append(due, overdue{id: a.ID, level: a.Level})
		}
	}

	for _, f := range due {
		s.onTimeout(f.id, f.level)
	}
	for _, task := range pending {
		task.mu.Lock()
		if !task.closed && task.alert.Status == ent.StatusActive {
			_ = s.advance(task, task.alert.Level, "")
		}
		task.mu.Unlock()
	}

	s.logger.Info("recovered active alerts",
		zap.Int("restored", restored),
		zap.Int("overdue", len(due)),
		zap.Int("resumed", len(pending)),
	)
	return restored, nil
}

// Close stops every armed timer. Alerts stay active in the store and are
// picked up by the next Recover.
func (s *Scheduler) Close() {
	s.cancel()

	s.mu.Lock()
	tasks := make([]*alertTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.mu.Lock()
		s.stopTimer(t)
		t.mu.Unlock()
	}
}

// notifyFrom dispatches level and, while every channel fails or no recipient
// is eligible, the levels after it. The caller holds task.mu.
func (s *Scheduler) notifyFrom(task *alertTask, level int, reason string) error {
	recipients := task.alert.Rule.Recipients()
	for ; level < len(recipients); level++ {
		if err := s.ctx.Err(); err != nil {
			return err
		}

		if level != task.alert.Level || !task.alert.Deadline.IsZero() {
			from := task.alert.Level
			task.alert.Level = level
			task.alert.Deadline = time.Time{}
			if err := s.persist(task); err != nil {
				return err
			}
			if level != from {
				s.metrics.Escalation(reason)
				s.logger.Info("escalating alert",
					zap.String("alert_id", task.alert.ID),
					zap.Int("from", from),
					zap.Int("to", level),
					zap.String("reason", reason),
				)
			}
		}

		authority, note, ok, err := s.recipientFor(task.alert)
		if err != nil {
			return err
		}
		if ok {
			var opts []DispatchOption
			if note != "" {
				opts = append(opts, WithNote(note))
			}
			attempts, err := s.dispatcher.Dispatch(s.ctx, task.alert, authority, task.alert.Rule.Channels, opts...)
			if err != nil {
				return err
			}
			if ent.AnyDelivered(attempts) {
				s.assign(task, authority.ID)
				return s.wait(task, authority)
			}
			s.logger.Warn("every channel failed, escalating immediately",
				zap.String("alert_id", task.alert.ID),
				zap.String("authority_id", authority.ID),
				zap.Int("level", level),
			)
		}
		reason = metrics.ReasonFailFast
	}
	return s.exhaust(task)
}

// recipientFor picks the authority for the alert's current level. ok is
// false when the level has no eligible recipient; the skip is already
// recorded in the history.
func (s *Scheduler) recipientFor(alert ent.Alert) (ent.Authority, string, bool, error) {
	id := alert.Rule.Recipients()[alert.Level]
	if alert.Level == 0 {
		return s.primaryFor(alert, id)
	}

	a, err := s.directory.Get(id)
	if err != nil {
		return s.skip(alert, id, "unknown authority")
	}
	eff := s.directory.Effective(a)
	if eff == ent.Unavailable {
		return s.skip(alert, id, "authority unavailable")
	}
	a.Availability = eff
	return a, "", true, nil
}

func (s *Scheduler) primaryFor(alert ent.Alert, id string) (ent.Authority, string, bool, error) {
	if id != ent.AutoPrimary {
		a, err := s.directory.Get(id)
		if err == nil {
			eff := s.directory.Effective(a)
			if eff == ent.Unavailable {
				return s.skip(alert, id, "primary authority unavailable")
			}
			a.Availability = eff
			return a, "", true, nil
		}
		s.logger.Warn("primary authority is not in the directory",
			zap.String("alert_id", alert.ID),
			zap.String("authority_id", id),
		)
	}

	if matches, err := s.directory.Find(alert.Location, alert.IssueType); err == nil && len(matches) > 0 {
		a := matches[0]
		a.Availability = s.directory.Effective(a)
		note := ""
		if id != ent.AutoPrimary {
			note = fmt.Sprintf("fallback: primary %s unknown, matched %s", id, a.ID)
			s.metrics.Fallback("authority")
		}
		return a, note, true, nil
	}

	if s.cfg.DefaultAuthority != "" {
		if a, err := s.directory.Get(s.cfg.DefaultAuthority); err == nil {
			if eff := s.directory.Effective(a); eff != ent.Unavailable {
				a.Availability = eff
				s.logger.Warn("no matching authority, using default",
					zap.String("alert_id", alert.ID),
					zap.String("location", alert.Location),
					zap.String("issue_type", alert.IssueType),
					zap.String("default_authority", a.ID),
				)
				s.metrics.Fallback("authority")
				return a, "fallback: no matching authority", true, nil
			}
		}
	}
	return s.skip(alert, id, ent.ErrNoMatchingAuthority.Error())
}

func (s *Scheduler) skip(alert ent.Alert, authorityID, reason string) (ent.Authority, string, bool, error) {
	s.logger.Warn("level has no eligible recipient",
		zap.String("alert_id", alert.ID),
		zap.String("authority_id", authorityID),
		zap.Int("level", alert.Level),
		zap.String("reason", reason),
	)
	if _, err := s.dispatcher.RecordSkip(s.ctx, alert, authorityID, reason); err != nil {
		return ent.Authority{}, "", false, err
	}
	return ent.Authority{}, "", false, nil
}

// wait arms the level timer, or leaves the alert parked when the rule does
// not escalate on its own.
func (s *Scheduler) wait(task *alertTask, authority ent.Authority) error {
	if !task.alert.Rule.AutoEscalate {
		task.alert.Deadline = time.Time{}
		return s.persist(task)
	}

	budget := s.estimator.WaitBudget(task.alert.Rule.Timeout, authority)
	task.alert.Deadline = s.clock.Now().Add(budget)
	if err := s.persist(task); err != nil {
		return err
	}
	s.arm(task, budget)
	s.logger.Debug("waiting for resolution",
		zap.String("alert_id", task.alert.ID),
		zap.Int("level", task.alert.Level),
		zap.Duration("budget", budget),
		zap.Time("deadline", task.alert.Deadline),
	)
	return nil
}

func (s *Scheduler) arm(task *alertTask, d time.Duration) {
	s.stopTimer(task)
	id, level := task.alert.ID, task.alert.Level
	task.timer = s.clock.AfterFunc(d, func() {
		s.onTimeout(id, level)
	})
}

// armRetry schedules another attempt at moving the task from its current
// level to target.
func (s *Scheduler) armRetry(task *alertTask, target int, reason string) {
	s.stopTimer(task)
	id, from := task.alert.ID, task.alert.Level
	task.timer = s.clock.AfterFunc(s.cfg.RetryDelay, func() {
		s.fire(id, from, target, reason)
	})
}

func (s *Scheduler) stopTimer(task *alertTask) {
	if task.timer != nil {
		task.timer.Stop()
		task.timer = nil
	}
}

func (s *Scheduler) onTimeout(alertID string, level int) {
	s.fire(alertID, level, level+1, metrics.ReasonTimeout)
}

// fire runs a timer armed while the alert was at level from. Timers that no
// longer match the alert are ignored.
func (s *Scheduler) fire(alertID string, from, target int, reason string) {
	if s.ctx.Err() != nil {
		return
	}
	task := s.task(alertID)
	if task == nil {
		return
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	if task.closed || task.alert.Status != ent.StatusActive || task.alert.Level != from {
		s.logger.Debug("ignoring stale timer",
			zap.String("alert_id", alertID),
			zap.Int("level", from),
		)
		return
	}
	task.timer = nil

	if s.reportResolved(task.alert.ReportID) {
		if err := s.resolve(task, "status poll"); err != nil {
			s.logger.Error("failed to resolve alert", zap.String("alert_id", alertID), zap.Error(err))
		}
		return
	}
	_ = s.advance(task, target, reason)
}

// expire handles a passed deadline at the task's current level. The caller
// holds task.mu.
func (s *Scheduler) expire(task *alertTask) error {
	if s.reportResolved(task.alert.ReportID) {
		return s.resolve(task, "status poll")
	}
	return s.advance(task, task.alert.Level+1, metrics.ReasonTimeout)
}

// advance is notifyFrom for an alert that is already running. When the
// transition fails on an alert that is still active, the in-memory level and
// deadline are put back to what the store holds and the transition is retried
// after RetryDelay. The caller holds task.mu.
func (s *Scheduler) advance(task *alertTask, target int, reason string) error {
	level, deadline := task.alert.Level, task.alert.Deadline
	err := s.notifyFrom(task, target, reason)
	if err == nil {
		return nil
	}
	s.logger.Error("escalation failed",
		zap.String("alert_id", task.alert.ID),
		zap.Int("from", level),
		zap.Int("to", target),
		zap.Error(err),
	)
	if task.closed || task.alert.Status != ent.StatusActive || s.ctx.Err() != nil {
		return err
	}
	task.alert.Level = level
	task.alert.Deadline = deadline
	s.armRetry(task, target, reason)
	s.logger.Warn("escalation will be retried",
		zap.String("alert_id", task.alert.ID),
		zap.Int("level", level),
		zap.Duration("retry_in", s.cfg.RetryDelay),
	)
	return err
}

// reportResolved polls the report service. Errors and timeouts count as not
// resolved.
func (s *Scheduler) reportResolved(reportID string) bool {
	if s.status == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.StatusTimeout)
	defer cancel()

	type result struct {
		status ent.ReportStatus
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		st, err := s.status.GetReportStatus(ctx, reportID)
		ch <- result{status: st, err: err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		s.logger.Warn("report status check failed, treating as unresolved",
			zap.String("report_id", reportID),
			zap.Error(res.err),
		)
		s.metrics.StatusCheckFailed()
		return false
	}
	return res.status.Resolved
}

func (s *Scheduler) resolve(task *alertTask, source string) error {
	s.stopTimer(task)
	task.alert.Status = ent.StatusResolved
	task.alert.Deadline = time.Time{}
	err := s.persist(task)

	s.release(task)
	if s.abandon(task) {
		s.metrics.AlertClosed()
	}
	s.logger.Info("alert resolved",
		zap.String("alert_id", task.alert.ID),
		zap.String("report_id", task.alert.ReportID),
		zap.Int("level", task.alert.Level),
		zap.String("source", source),
	)
	return err
}

func (s *Scheduler) exhaust(task *alertTask) error {
	s.stopTimer(task)
	task.alert.Status = ent.StatusExhausted
	task.alert.Deadline = time.Time{}
	err := s.persist(task)

	s.release(task)
	if s.abandon(task) {
		s.metrics.AlertClosed()
	}
	s.metrics.ChainExhausted()

	ev := ent.ExhaustionEvent{
		AlertID:     task.alert.ID,
		ReportID:    task.alert.ReportID,
		IssueType:   task.alert.IssueType,
		Severity:    task.alert.Severity,
		Location:    task.alert.Location,
		Level:       task.alert.Level,
		Recipients:  task.alert.Rule.Recipients(),
		CreatedAt:   task.alert.CreatedAt,
		ExhaustedAt: task.alert.UpdatedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if serr := s.sink.ChainExhausted(ctx, ev); serr != nil {
		s.logger.Error("failed to report exhausted chain",
			zap.String("alert_id", ev.AlertID),
			zap.Error(fmt.Errorf("%w: %w", ent.ErrChainExhausted, serr)),
		)
	}
	return err
}

// assign moves the workload slot to authorityID.
func (s *Scheduler) assign(task *alertTask, authorityID string) {
	prev := task.alert.AssigneeID
	if prev == authorityID {
		return
	}
	if prev != "" {
		s.adjustWorkload(prev, -1)
	}
	s.adjustWorkload(authorityID, 1)
	task.alert.AssigneeID = authorityID
}

func (s *Scheduler) release(task *alertTask) {
	if task.alert.AssigneeID != "" {
		s.adjustWorkload(task.alert.AssigneeID, -1)
	}
}

func (s *Scheduler) adjustWorkload(authorityID string, delta int) {
	if _, err := s.directory.AdjustWorkload(authorityID, delta); err != nil {
		s.logger.Warn("failed to adjust workload",
			zap.String("authority_id", authorityID),
			zap.Int("delta", delta),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) persist(task *alertTask) error {
	task.alert.UpdatedAt = s.clock.Now()
	return s.alerts.Update(context.Background(), task.alert)
}

func (s *Scheduler) register(task *alertTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.alert.ID] = task
	s.byReport[task.alert.ReportID] = task.alert.ID
}

// registerIfAbsent registers task unless its alert already has one.
func (s *Scheduler) registerIfAbsent(task *alertTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.alert.ID]; ok {
		return false
	}
	s.tasks[task.alert.ID] = task
	s.byReport[task.alert.ReportID] = task.alert.ID
	return true
}

// abandon drops the task from the index and reports whether it was still
// registered. The caller holds task.mu.
func (s *Scheduler) abandon(task *alertTask) bool {
	s.stopTimer(task)
	task.closed = true

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[task.alert.ID] != task {
		return false
	}
	delete(s.tasks, task.alert.ID)
	if s.byReport[task.alert.ReportID] == task.alert.ID {
		delete(s.byReport, task.alert.ReportID)
	}
	return true
}

func (s *Scheduler) task(alertID string) *alertTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[alertID]
}

func (s *Scheduler) taskByReport(reportID string) *alertTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byReport[reportID]
	if !ok {
		return nil
	}
	return s.tasks[id]
}

func (s *Scheduler) activeAlert(reportID string) (ent.Alert, bool) {
	task := s.taskByReport(reportID)
	if task == nil {
		return ent.Alert{}, false
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.closed || task.alert.Status != ent.StatusActive {
		return ent.Alert{}, false
	}
	return task.snapshot(), true
}
