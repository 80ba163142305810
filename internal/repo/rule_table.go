package repo

import (
	"fmt"
	"sort"
	"sync"

	ent "CivicAlertManager/internal/entity"
)

// RuleTable maps (issue type, severity) to an alert rule.
//
// Resolution order:
//  1. exact (issueType, severity)
//  2. (issueType, "default")
//  3. the global default (general, low)
type RuleTable struct {
	mu    sync.RWMutex
	rules map[ent.RuleKey]ent.AlertRule
}

func NewRuleTable(rules []ent.AlertRule) (*RuleTable, error) {
	t := &RuleTable{}
	if err := t.Replace(rules); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace swaps the whole rule set. In-flight alerts keep their snapshot.
func (t *RuleTable) Replace(rules []ent.AlertRule) error {
	next := make(map[ent.RuleKey]ent.AlertRule, len(rules))
	for _, r := range rules {
		key := ent.NewRuleKey(r.Key.IssueType, r.Key.Severity)
		if key.IssueType == "" || key.Severity == "" {
			return fmt.Errorf("%w: rule with empty key", ent.ErrInvalidConfig)
		}
		if _, dup := next[key]; dup {
			return fmt.Errorf("%w: duplicate rule %s", ent.ErrInvalidConfig, key)
		}
		if r.Primary == "" {
			return fmt.Errorf("%w: rule %s has no primary authority", ent.ErrInvalidConfig, key)
		}
		if r.Timeout <= 0 {
			return fmt.Errorf("%w: rule %s has no timeout", ent.ErrInvalidConfig, key)
		}
		if len(r.Channels) == 0 {
			return fmt.Errorf("%w: rule %s has no channels", ent.ErrInvalidConfig, key)
		}
		rule := r.Clone()
		rule.Key = key
		next[key] = rule
	}
	if _, ok := next[ent.GlobalDefaultKey]; !ok {
		return fmt.Errorf("%w: missing global default rule %s", ent.ErrInvalidConfig, ent.GlobalDefaultKey)
	}

	t.mu.Lock()
	t.rules = next
	t.mu.Unlock()
	return nil
}

// Resolve returns a copy of the matching rule. Its Key tells which step of the
// fallback order matched.
func (t *RuleTable) Resolve(issueType, severity string) (ent.AlertRule, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, key := range []ent.RuleKey{
		ent.NewRuleKey(issueType, severity),
		ent.NewRuleKey(issueType, ent.DefaultSeverity),
		ent.GlobalDefaultKey,
	} {
		if r, ok := t.rules[key]; ok {
			return r.Clone(), nil
		}
	}
	return ent.AlertRule{}, fmt.Errorf("rule %s/%s: %w", issueType, severity, ent.ErrNotFound)
}

// Rules returns every configured rule ordered by key.
func (t *RuleTable) Rules() []ent.AlertRule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ent.AlertRule, 0, len(t.rules))
	for _, r := range t.rules {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
