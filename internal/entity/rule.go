package ent

import (
	"strings"
	"time"
)

const (
	DefaultSeverity  = "default"
	GeneralIssueType = "general"
	LowSeverity      = "low"

	// AutoPrimary asks the directory for the best matching authority.
	AutoPrimary = "auto"
)

type RuleKey struct {
	IssueType string `json:"issue_type"`
	Severity  string `json:"severity"`
}

// NewRuleKey normalizes both parts to lower case.
func NewRuleKey(issueType, severity string) RuleKey {
	return RuleKey{
		IssueType: strings.ToLower(strings.TrimSpace(issueType)),
		Severity:  strings.ToLower(strings.TrimSpace(severity)),
	}
}

// GlobalDefaultKey is the last stop of rule resolution.
var GlobalDefaultKey = RuleKey{IssueType: GeneralIssueType, Severity: LowSeverity}

func (k RuleKey) String() string {
	return k.IssueType + "/" + k.Severity
}

type AlertRule struct {
	Key          RuleKey       `json:"key"`
	Primary      string        `json:"primary"`
	Chain        []string      `json:"chain"`
	Timeout      time.Duration `json:"timeout"`
	Channels     []Channel     `json:"channels"`
	AutoEscalate bool          `json:"auto_escalate"`
}

// Recipients is the per-level authority list: the primary followed by the
// chain. A chain that starts with the primary does not repeat it.
func (r AlertRule) Recipients() []string {
	out := make([]string, 0, len(r.Chain)+1)
	out = append(out, r.Primary)
	for i, id := range r.Chain {
		if i == 0 && id == r.Primary {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Clone returns a copy that shares no slices with r.
func (r AlertRule) Clone() AlertRule {
	c := r
	c.Chain = append([]string(nil), r.Chain...)
	c.Channels = append([]Channel(nil), r.Channels...)
	return c
}
