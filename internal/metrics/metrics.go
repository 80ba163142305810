// Package metrics holds the Prometheus instruments of the escalation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "civic_alerts"

// Escalation reasons.
const (
	ReasonTimeout  = "timeout"
	ReasonFailFast = "fail_fast"
	ReasonManual   = "manual"
)

type Recorder struct {
	notifications  *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	activeAlerts   prometheus.Gauge
	exhausted      prometheus.Counter
	fallbacks      *prometheus.CounterVec
	statusFailures prometheus.Counter
	dispatchTime   *prometheus.HistogramVec
}

// NewRecorder registers every instrument on reg. A nil reg gets a private
// registry, which keeps tests independent.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Recorder{
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by channel and outcome",
		}, []string{"channel", "outcome"}),
		escalations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Level advances by reason (timeout, fail_fast, manual)",
		}, []string{"reason"}),
		activeAlerts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerts_active",
			Help:      "Alerts currently waiting for resolution",
		}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_exhausted_total",
			Help:      "Alerts whose escalation chain ran out without resolution",
		}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authority_fallbacks_total",
			Help:      "Lookups that fell back to a default rule or authority",
		}, []string{"kind"}),
		statusFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_check_failures_total",
			Help:      "Report status polls that failed or timed out",
		}),
		dispatchTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "channel_send_duration_seconds",
			Help:      "Time spent sending one notification on one channel",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
}

func (r *Recorder) Notification(channel, outcome string) {
	r.notifications.WithLabelValues(channel, outcome).Inc()
}

func (r *Recorder) SendDuration(channel string, seconds float64) {
	r.dispatchTime.WithLabelValues(channel).Observe(seconds)
}

func (r *Recorder) Escalation(reason string) {
	r.escalations.WithLabelValues(reason).Inc()
}

func (r *Recorder) AlertOpened() { r.activeAlerts.Inc() }

func (r *Recorder) AlertClosed() { r.activeAlerts.Dec() }

func (r *Recorder) ChainExhausted() { r.exhausted.Inc() }

func (r *Recorder) Fallback(kind string) {
	r.fallbacks.WithLabelValues(kind).Inc()
}

func (r *Recorder) StatusCheckFailed() { r.statusFailures.Inc() }

// Exported collectors for assertions in tests.

func (r *Recorder) NotificationsVec() *prometheus.CounterVec { return r.notifications }

func (r *Recorder) EscalationsVec() *prometheus.CounterVec { return r.escalations }

func (r *Recorder) FallbacksVec() *prometheus.CounterVec { return r.fallbacks }

func (r *Recorder) ActiveAlerts() prometheus.Gauge { return r.activeAlerts }

func (r *Recorder) ExhaustedCounter() prometheus.Counter { return r.exhausted }
