package repo

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer is the "email" channel.
type SMTPMailer struct {
	cfg SMTPConfig

	// sendMail is injectable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = "civic-alerts@localhost"
	}
	return &SMTPMailer{cfg: cfg, sendMail: smtp.SendMail}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, address, reportID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	to := []string{address}
	headers := []string{
		"From: " + m.cfg.From,
		"To: " + address,
		fmt.Sprintf("Subject: [civic-alert] report %s", reportID),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="utf-8"`,
	}
	msg := []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + message + "\r\n")

	if err := m.sendMail(addr, auth, m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
