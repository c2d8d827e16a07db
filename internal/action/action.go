package action

import "fortgate/internal/dataType"

// State tells the check pipeline whether to keep running checks.
type State int

const (
	Continue State = iota // next check may still change the outcome
	Done                  // outcome fixed, stop the scan
)

// Decision accumulates the outcome of one request's check pipeline.
type Decision struct {
	state       State
	outcome     dataType.ActionID
	matchedRule *dataType.Rule
	rateLimited bool
}

func NewDecision() *Decision {
	return &Decision{state: Continue, outcome: dataType.ActionSkip}
}

func (d *Decision) State() State {
	return d.state
}

func (d *Decision) Outcome() dataType.ActionID {
	return d.outcome
}

// MatchedRule is the rule that fixed the outcome, nil for default skip
// and for rate-limit decisions.
func (d *Decision) MatchedRule() *dataType.Rule {
	return d.matchedRule
}

func (d *Decision) RateLimited() bool {
	return d.rateLimited
}

// Set records an outcome but lets later checks run.
func (d *Decision) Set(outcome dataType.ActionID) {
	d.outcome = outcome
}

// SetDone fixes the outcome; the pipeline stops at the next step.
func (d *Decision) SetDone(outcome dataType.ActionID, rule *dataType.Rule) {
	d.state = Done
	d.outcome = outcome
	d.matchedRule = rule
}

// SetRateLimited fixes a block produced by the rate limiter rather than
// a matched rule.
func (d *Decision) SetRateLimited() {
	d.state = Done
	d.outcome = dataType.ActionBlock
	d.rateLimited = true
}
