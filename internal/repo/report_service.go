package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ent "CivicAlertManager/internal/entity"
)

// ReportService polls the external report service for resolution status.
type ReportService struct {
	baseURL string
	client  *http.Client
}

func NewReportService(baseURL string, timeout time.Duration) (*ReportService, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: report service url is required", ent.ErrInvalidConfig)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReportService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// GetReportStatus calls GET {base}/reports/{id}/status.
func (s *ReportService) GetReportStatus(ctx context.Context, reportID string) (ent.ReportStatus, error) {
	endpoint := fmt.Sprintf("%s/reports/%s/status", s.baseURL, url.PathEscape(reportID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ent.ReportStatus{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return ent.ReportStatus{}, fmt.Errorf("failed to get report status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ent.ReportStatus{}, fmt.Errorf("report service returned %d for %s", resp.StatusCode, reportID)
	}

	var status ent.ReportStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ent.ReportStatus{}, fmt.Errorf("failed to decode report status: %w", err)
	}
	return status, nil
}
