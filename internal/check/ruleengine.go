package check

import (
	"fmt"
	"sort"

	"fortgate/internal/dataType"
	"fortgate/internal/rules"
	"fortgate/internal/utils"
)

// RuleEngine turns a host's rule set and a request snapshot into an
// enforcement action. Rules come from the repository collaborator; the
// engine itself holds no mutable state and is safe for concurrent use.
type RuleEngine struct {
	repo rules.Repository
	logx *utils.LogxManager
}

func NewRuleEngine(repo rules.Repository, logx *utils.LogxManager) *RuleEngine {
	return &RuleEngine{repo: repo, logx: logx}
}

// SelectAction scans the host's enabled rules in priority order and
// returns the first match. No match, an unreachable repository, or an
// empty rule set all answer the default skip.
func (e *RuleEngine) SelectAction(host string, snap *dataType.RequestSnapshot) (dataType.ActionID, *dataType.Rule) {
	ruleSet, err := e.repo.FetchRules(host)
	if err != nil {
		if e.logx != nil {
			e.logx.LogError(snap, fmt.Sprintf("fetch rules failed, skipping enforcement: %v", err), "SelectAction")
		}
		return dataType.ActionSkip, nil
	}
	if !sort.SliceIsSorted(ruleSet, func(i, j int) bool { return ruleSet[i].Priority < ruleSet[j].Priority }) {
		sorted := make([]dataType.Rule, len(ruleSet))
		copy(sorted, ruleSet)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
		ruleSet = sorted
	}

	for i := range ruleSet {
		rule := &ruleSet[i]
		if !rule.Enabled {
			continue
		}
		if matchRule(rule, snap) {
			return rule.Action, rule
		}
	}
	return dataType.ActionSkip, nil
}

// matchRule combines the rule's conditions left to right: the first
// result seeds the accumulator, each later one joins with its own
// AND/OR. Zero-condition rules never match.
func matchRule(rule *dataType.Rule, snap *dataType.RequestSnapshot) bool {
	if len(rule.Conditions) == 0 {
		return false
	}
	acc := Evaluate(rule.Conditions[0], snap)
	for _, cond := range rule.Conditions[1:] {
		result := Evaluate(cond, snap)
		if cond.Logic == dataType.LogicOr {
			acc = acc || result
		} else {
			acc = acc && result
		}
	}
	return acc
}

// DetermineSeverityFromRule maps rule priority to event severity:
// higher-priority policies guard the things worth paging about.
func DetermineSeverityFromRule(rule *dataType.Rule) dataType.Severity {
	if rule == nil {
		return dataType.SeverityLow
	}
	switch {
	case rule.Priority < 10:
		return dataType.SeverityCritical
	case rule.Priority < 50:
		return dataType.SeverityHigh
	default:
		return dataType.SeverityLow
	}
}
