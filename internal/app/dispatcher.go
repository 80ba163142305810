package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"CivicAlertManager/internal/clock"
	ent "CivicAlertManager/internal/entity"
	"CivicAlertManager/internal/metrics"
)

const DefaultSendTimeout = 10 * time.Second

type DispatcherOptions struct {
	SendTimeout time.Duration
	Location    *time.Location
	Estimator   *Estimator
	Clock       clock.Clock
	Metrics     *metrics.Recorder
	Logger      *zap.Logger
}

// Dispatcher fans one alert level out to an authority over every configured
// channel and records each attempt in the history.
type Dispatcher struct {
	senders     map[ent.Channel]Sender
	history     HistoryStore
	sendTimeout time.Duration
	location    *time.Location
	estimator   *Estimator
	clock       clock.Clock
	metrics     *metrics.Recorder
	logger      *zap.Logger
}

func NewDispatcher(senders map[ent.Channel]Sender, history HistoryStore, opts DispatcherOptions) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Estimator == nil {
		opts.Estimator = NewEstimator(DefaultWorkloadThreshold)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRecorder(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	registered := make(map[ent.Channel]Sender, len(senders))
	for ch, s := range senders {
		if s != nil {
			registered[ch] = s
		}
	}

	return &Dispatcher{
		senders:     registered,
		history:     history,
		sendTimeout: opts.SendTimeout,
		location:    opts.Location,
		estimator:   opts.Estimator,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

type dispatchSettings struct {
	note string
}

type DispatchOption func(*dispatchSettings)

// WithNote adds an audit note to the detail of every recorded attempt.
func WithNote(note string) DispatchOption {
	return func(s *dispatchSettings) {
		s.note = note
	}
}

// Dispatch notifies authority about alert at alert.Level. When a successful
// attempt for the same alert, authority and level is already in the history,
// nothing is sent and the earlier successful attempts are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, alert ent.Alert, authority ent.Authority, channels []ent.Channel, opts ...DispatchOption) ([]ent.NotificationAttempt, error) {
	var settings dispatchSettings
	for _, opt := range opts {
		opt(&settings)
	}

	// History writes must outlive a cancelled request.
	storeCtx := context.WithoutCancel(ctx)

	done, err := d.history.HasAttempt(storeCtx, alert.ID, authority.ID, alert.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to check notification history: %w", err)
	}
	if done {
		d.logger.Debug("authority already notified for this level",
			zap.String("alert_id", alert.ID),
			zap.String("authority_id", authority.ID),
			zap.Int("level", alert.Level),
		)
		return d.previousSuccesses(storeCtx, alert, authority.ID)
	}

	channels = uniqueChannels(channels)
	message := FormatAlertMessage(alert, authority, d.estimator.Estimate(authority), d.location)

	results := make([]ent.NotificationAttempt, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch ent.Channel) {
			defer wg.Done()
			results[i] = d.send(ctx, alert, authority, ch, message)
		}(i, ch)
	}
	wg.Wait()

	recorded := make([]ent.NotificationAttempt, 0, len(results))
	for _, at := range results {
		if settings.note != "" {
			at.Detail = joinDetail(settings.note, at.Detail)
		}
		saved, err := d.history.Append(storeCtx, at)
		if err != nil {
			return recorded, fmt.Errorf("failed to record %s attempt: %w", at.Channel, err)
		}
		d.metrics.Notification(string(at.Channel), string(at.Outcome))
		recorded = append(recorded, saved)
	}
	return recorded, nil
}

// RecordSkip appends a failed attempt for a level that had no eligible
// recipient.
func (d *Dispatcher) RecordSkip(ctx context.Context, alert ent.Alert, authorityID, reason string) (ent.NotificationAttempt, error) {
	at := ent.NotificationAttempt{
		AlertID:     alert.ID,
		AuthorityID: authorityID,
		Channel:     ent.ChannelNone,
		Level:       alert.Level,
		Outcome:     ent.OutcomeFailed,
		Detail:      reason,
		Timestamp:   d.clock.Now(),
	}
	saved, err := d.history.Append(context.WithoutCancel(ctx), at)
	if err != nil {
		return at, fmt.Errorf("failed to record skipped level: %w", err)
	}
	d.metrics.Notification(string(ent.ChannelNone), string(ent.OutcomeFailed))
	return saved, nil
}

func (d *Dispatcher) send(ctx context.Context, alert ent.Alert, authority ent.Authority, ch ent.Channel, message string) ent.NotificationAttempt {
	at := ent.NotificationAttempt{
		AlertID:     alert.ID,
		AuthorityID: authority.ID,
		Channel:     ch,
		Level:       alert.Level,
		Outcome:     ent.OutcomeFailed,
	}

	sender, ok := d.senders[ch]
	if !ok {
		at.Detail = fmt.Sprintf("%v: channel %s is not configured", ent.ErrChannelSend, ch)
		at.Timestamp = d.clock.Now()
		return at
	}
	address, ok := authority.Address(ch)
	if !ok {
		at.Detail = fmt.Sprintf("%v: %s", ent.ErrNoDeliveryAddress, ch)
		at.Timestamp = d.clock.Now()
		return at
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	started := time.Now()
	err := sender.Send(sendCtx, address, alert.ReportID, message)
	d.metrics.SendDuration(string(ch), time.Since(started).Seconds())
	at.Timestamp = d.clock.Now()

	if err != nil {
		at.Detail = fmt.Errorf("%w: %w", ent.ErrChannelSend, err).Error()
		d.logger.Warn("notification failed",
			zap.String("alert_id", alert.ID),
			zap.String("authority_id", authority.ID),
			zap.String("channel", string(ch)),
			zap.Int("level", alert.Level),
			zap.Error(err),
		)
		return at
	}

	at.Outcome = ent.OutcomeSent
	if c, ok := sender.(DeliveryConfirmer); ok && c.ConfirmsDelivery() {
		at.Outcome = ent.OutcomeDelivered
	}
	d.logger.Info("notification sent",
		zap.String("alert_id", alert.ID),
		zap.String("authority_id", authority.ID),
		zap.String("channel", string(ch)),
		zap.Int("level", alert.Level),
		zap.String("outcome", string(at.Outcome)),
	)
	return at
}

func (d *Dispatcher) previousSuccesses(ctx context.Context, alert ent.Alert, authorityID string) ([]ent.NotificationAttempt, error) {
	all, err := d.history.ListByAlert(ctx, alert.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification history: %w", err)
	}
	var out []ent.NotificationAttempt
	for _, at := range all {
		if at.AuthorityID == authorityID && at.Level == alert.Level && at.Outcome.Succeeded() {
			out = append(out, at)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("history reported a successful attempt but none was listed")
	}
	return out, nil
}

func uniqueChannels(channels []ent.Channel) []ent.Channel {
	seen := make(map[ent.Channel]struct{}, len(channels))
	out := make([]ent.Channel, 0, len(channels))
	for _, ch := range channels {
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

func joinDetail(note, detail string) string {
	if detail == "" {
		return note
	}
	return note + "; " + detail
}
