package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultSMSAttempts  = 3
	defaultSMSRetryWait = 500 * time.Millisecond
)

type SMSGatewayConfig struct {
	URL         string
	Token       string
	ClientID    string
	Sender      string
	MaxAttempts int
	// RetryWait is the pause before the second attempt. It grows by the same
	// amount for every attempt after that.
	RetryWait time.Duration
	Timeout   time.Duration
}

// SMSGateway is the "sms" channel, a bearer-token HTTP gateway.
type SMSGateway struct {
	url         string
	token       string
	clientID    string
	sender      string
	maxAttempts int
	retryWait   time.Duration
	client      *http.Client
}

type smsRequest struct {
	Number    string `json:"number"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text"`
	Reference string `json:"reference"`
}

func NewSMSGateway(cfg SMSGatewayConfig) (*SMSGateway, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.ClientID == "" {
		return nil, errors.New("sms gateway url, api token and client ID are required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultSMSAttempts
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = defaultSMSRetryWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSGateway{
		url:         cfg.URL,
		token:       cfg.Token,
		clientID:    cfg.ClientID,
		sender:      cfg.Sender,
		maxAttempts: cfg.MaxAttempts,
		retryWait:   cfg.RetryWait,
		client:      &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Send delivers message to the phone number in address. Server errors are
// retried; client errors are not.
func (g *SMSGateway) Send(ctx context.Context, address, reportID, message string) error {
	payload, err := json.Marshal(smsRequest{
		Number:    address,
		Sender:    g.sender,
		Text:      message,
		Reference: reportID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal sms payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		retry, err := g.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt+1 == g.maxAttempts {
			break
		}
		if err := g.pause(ctx, time.Duration(attempt+1)*g.retryWait); err != nil {
			return fmt.Errorf("sms to %s abandoned: %w", address, errors.Join(lastErr, err))
		}
	}
	return fmt.Errorf("sms to %s failed after retries: %w", address, lastErr)
}

func (g *SMSGateway) pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *SMSGateway) post(ctx context.Context, payload []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Client", g.clientID)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.token))

	resp, err := g.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("sms gateway rejected message: %d", resp.StatusCode)
	}
}
