package ent

import (
	"fmt"
	"strings"
	"time"
)

type Availability string

const (
	Available   Availability = "available"
	Busy        Availability = "busy"
	Unavailable Availability = "unavailable"
)

// ParseAvailability accepts the three states case-insensitively.
func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(strings.ToLower(strings.TrimSpace(s))); a {
	case Available, Busy, Unavailable:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAvailability, s)
	}
}

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelChat  Channel = "chat"
	// ChannelNone marks a history entry for a level that had no eligible recipient.
	ChannelNone Channel = "none"
)

func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelChat:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, s)
	}
}

// DutyWindow is an HH:MM range. End before Start wraps past midnight.
type DutyWindow struct {
	Start string `json:"start" mapstructure:"start"`
	End   string `json:"end" mapstructure:"end"`
}

type Authority struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	Jurisdiction     string             `json:"jurisdiction"`
	Responsibilities []string           `json:"responsibilities"`
	Contacts         map[Channel]string `json:"contacts"`
	Tier             int                `json:"tier"`
	TargetResponse   time.Duration      `json:"target_response"`
	Workload         int                `json:"workload"`
	Availability     Availability       `json:"availability"`
	DutyHours        []DutyWindow       `json:"duty_hours,omitempty"`
}

// Handles reports whether issueType is one of the authority's responsibilities.
func (a Authority) Handles(issueType string) bool {
	for _, r := range a.Responsibilities {
		if strings.EqualFold(r, issueType) {
			return true
		}
	}
	return false
}

// Covers reports whether the authority's jurisdiction contains location.
// Jurisdictions are "/"-separated paths and "*" covers everything.
func (a Authority) Covers(location string) bool {
	j := strings.ToLower(strings.Trim(a.Jurisdiction, "/ "))
	l := strings.ToLower(strings.Trim(location, "/ "))
	if j == "*" {
		return true
	}
	if j == "" {
		return false
	}
	return l == j || strings.HasPrefix(l, j+"/")
}

// Address returns the contact address for ch, if any.
func (a Authority) Address(ch Channel) (string, bool) {
	addr, ok := a.Contacts[ch]
	return addr, ok && strings.TrimSpace(addr) != ""
}
