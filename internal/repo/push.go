package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PushGateway is the "push" channel. The authority's address is a device
// token forwarded to a JSON webhook.
type PushGateway struct {
	url     string
	headers map[string]string
	client  *http.Client
}

type pushPayload struct {
	Token     string    `json:"token"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	ReportID  string    `json:"report_id"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPushGateway(url string, headers map[string]string, timeout time.Duration) (*PushGateway, error) {
	if url == "" {
		return nil, fmt.Errorf("push webhook url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushGateway{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (p *PushGateway) Send(ctx context.Context, address, reportID, message string) error {
	body, err := json.Marshal(pushPayload{
		Token:     address,
		Title:     "Civic issue " + reportID,
		Body:      message,
		ReportID:  reportID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}
