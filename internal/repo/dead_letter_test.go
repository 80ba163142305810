package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ent "CivicAlertManager/internal/entity"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(subject string, data []byte) error {
	return m.Called(subject, data).Error(0)
}

func (m *mockPublisher) FlushWithContext(ctx context.Context) error {
	return m.Called().Error(0)
}

func testExhaustion() ent.ExhaustionEvent {
	return ent.ExhaustionEvent{
		AlertID:     "a-1",
		ReportID:    "r-1",
		IssueType:   "pothole",
		Severity:    "high",
		Level:       2,
		Recipients:  []string{"pwd-engineer", "ward-officer", "corporator"},
		ExhaustedAt: time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
	}
}

func TestNATSDeadLetterPublishes(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", "civic.alerts.exhausted", mock.MatchedBy(func(data []byte) bool {
		var ev ent.ExhaustionEvent
		return json.Unmarshal(data, &ev) == nil && ev.AlertID == "a-1" && len(ev.Recipients) == 3
	})).Return(nil)
	pub.On("FlushWithContext").Return(nil)

	sink := NewNATSDeadLetterWithPublisher(pub, "")
	require.NoError(t, sink.ChainExhausted(context.Background(), testExhaustion()))
	pub.AssertExpectations(t)
	sink.Close()
}

func TestNATSDeadLetterPublishError(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", "ops.exhausted", mock.Anything).Return(errors.New("nats: connection closed"))

	sink := NewNATSDeadLetterWithPublisher(pub, "ops.exhausted")
	err := sink.ChainExhausted(context.Background(), testExhaustion())
	assert.ErrorContains(t, err, "connection closed")
	pub.AssertNotCalled(t, "FlushWithContext")
}

func TestLogDeadLetter(t *testing.T) {
	assert.NoError(t, NewLogDeadLetter(nil).ChainExhausted(context.Background(), testExhaustion()))
}
