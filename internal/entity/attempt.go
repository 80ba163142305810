package ent

import "time"

type Outcome string

const (
	OutcomeSent      Outcome = "sent"
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

func (o Outcome) Succeeded() bool {
	return o == OutcomeSent || o == OutcomeDelivered
}

// NotificationAttempt is one history entry. Entries are never mutated.
type NotificationAttempt struct {
	ID          int64     `json:"id"`
	AlertID     string    `json:"alert_id"`
	AuthorityID string    `json:"authority_id"`
	Channel     Channel   `json:"channel"`
	Level       int       `json:"level"`
	Outcome     Outcome   `json:"outcome"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// AnyDelivered reports whether at least one attempt in the set succeeded.
func AnyDelivered(attempts []NotificationAttempt) bool {
	for _, a := range attempts {
		if a.Outcome.Succeeded() {
			return true
		}
	}
	return false
}
