package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	ent "CivicAlertManager/internal/entity"
)

const DefaultExhaustedSubject = "civic.alerts.exhausted"

type NATSConfig struct {
	URL            string
	Subject        string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// Publisher is the subset of *nats.Conn the dead-letter sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSDeadLetter publishes exhausted alerts so an administrative consumer
// can pick them up.
type NATSDeadLetter struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

func NewNATSDeadLetter(cfg NATSConfig, logger *zap.Logger) (*NATSDeadLetter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultExhaustedSubject
	}
	if cfg.Name == "" {
		cfg.Name = "civic-alerts"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSDeadLetter{pub: conn, conn: conn, subject: cfg.Subject}, nil
}

// NewNATSDeadLetterWithPublisher is used when the connection is owned elsewhere.
func NewNATSDeadLetterWithPublisher(pub Publisher, subject string) *NATSDeadLetter {
	if subject == "" {
		subject = DefaultExhaustedSubject
	}
	return &NATSDeadLetter{pub: pub, subject: subject}
}

func (d *NATSDeadLetter) ChainExhausted(ctx context.Context, ev ent.ExhaustionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal exhaustion event: %w", err)
	}
	if err := d.pub.Publish(d.subject, payload); err != nil {
		return fmt.Errorf("failed to publish exhaustion event: %w", err)
	}
	return d.pub.FlushWithContext(ctx)
}

func (d *NATSDeadLetter) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

// LogDeadLetter is used when no broker is configured.
type LogDeadLetter struct {
	logger *zap.Logger
}

func NewLogDeadLetter(logger *zap.Logger) *LogDeadLetter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDeadLetter{logger: logger}
}

func (d *LogDeadLetter) ChainExhausted(_ context.Context, ev ent.ExhaustionEvent) error {
	d.logger.Error("escalation chain exhausted",
		zap.String("alert_id", ev.AlertID),
		zap.String("report_id", ev.ReportID),
		zap.String("issue_type", ev.IssueType),
		zap.String("severity", ev.Severity),
		zap.Int("level", ev.Level),
		zap.Strings("recipients", ev.Recipients),
	)
	return nil
}
