package dataType

import "time"

const FortGateVersion = "1.4.2"

// FieldID selects which part of a request a condition reads.
type FieldID int

const (
	FieldCookie        FieldID = 1
	FieldHostname      FieldID = 2
	FieldIP            FieldID = 3
	FieldIPRange       FieldID = 4
	FieldProtocol      FieldID = 5
	FieldReferrer      FieldID = 6
	FieldMethod        FieldID = 7
	FieldHTTPVersion   FieldID = 8
	FieldUserAgent     FieldID = 9
	FieldXForwardedFor FieldID = 10
	FieldMimeType      FieldID = 11
	FieldAbsoluteURI   FieldID = 12
	FieldAbsolutePath  FieldID = 13
	FieldPathAndQuery  FieldID = 14
	FieldQueryString   FieldID = 15
	FieldHeader        FieldID = 16
	FieldContentType   FieldID = 17
	FieldBody          FieldID = 18
	FieldBodyLength    FieldID = 19
	FieldCountry       FieldID = 20
	FieldCountryISO2   FieldID = 21
	FieldContinent     FieldID = 22
)

// OperatorID selects how the extracted value is compared to the literal.
type OperatorID int

const (
	OpEquals         OperatorID = 1
	OpNotEquals      OperatorID = 2
	OpContains       OperatorID = 3
	OpNotContains    OperatorID = 4
	OpRegexMatch     OperatorID = 5
	OpRegexNotMatch  OperatorID = 6
	OpStartsWith     OperatorID = 7
	OpNotStartsWith  OperatorID = 8
	OpEndsWith       OperatorID = 9
	OpNotEndsWith    OperatorID = 10
	OpInSet          OperatorID = 11
	OpNotInSet       OperatorID = 12
	OpInList         OperatorID = 13
	OpNotInList      OperatorID = 14
	OpIPInRange      OperatorID = 15
	OpIPNotInRange   OperatorID = 16
	OpGreaterThan    OperatorID = 17
	OpGreaterOrEqual OperatorID = 18
	OpLessThan       OperatorID = 19
	OpLessOrEqual    OperatorID = 20
	OpIsPresent      OperatorID = 21
	OpIsNotPresent   OperatorID = 22
)

// LogicOp combines a condition with the accumulated result of the
// conditions before it in the same rule.
type LogicOp int

const (
	LogicAnd LogicOp = 1
	LogicOr  LogicOp = 2
)

// ActionID is the enforcement outcome a rule asks for.
type ActionID int

const (
	ActionSkip                 ActionID = 1
	ActionBlock                ActionID = 2
	ActionManagedChallenge     ActionID = 3
	ActionInteractiveChallenge ActionID = 4
	ActionLog                  ActionID = 5
	ActionTraffic              ActionID = 6
)

func (a ActionID) String() string {
	switch a {
	case ActionSkip:
		return "skip"
	case ActionBlock:
		return "block"
	case ActionManagedChallenge:
		return "managed_challenge"
	case ActionInteractiveChallenge:
		return "interactive_challenge"
	case ActionLog:
		return "log"
	case ActionTraffic:
		return "traffic"
	}
	return "unknown"
}

// Condition is one field/operator/literal triple inside a rule.
// FieldName carries the cookie or header name for those two fields.
type Condition struct {
	FieldID   FieldID    `yaml:"field"`
	Operator  OperatorID `yaml:"operator"`
	Value     string     `yaml:"value"`
	FieldName string     `yaml:"field_name,omitempty"`
	Logic     LogicOp    `yaml:"logic,omitempty"`
}

// Rule is one prioritized policy scoped to a host's application.
type Rule struct {
	ID         int64       `yaml:"id"`
	Name       string      `yaml:"name"`
	Action     ActionID    `yaml:"action"`
	AppID      int64       `yaml:"app_id"`
	Priority   int         `yaml:"priority"`
	Enabled    bool        `yaml:"enabled"`
	Conditions []Condition `yaml:"conditions"`
}

// HostSettings are the per-application knobs the rule files carry next
// to the rules themselves.
type HostSettings struct {
	AppID                int64 `yaml:"app_id"`
	TokenExpirationHours int   `yaml:"token_expiration_hours"`
}

type EventType string

const (
	EventRequestBlocked         EventType = "RequestBlocked"
	EventRateLimitExceeded      EventType = "RateLimitExceeded"
	EventChallengeIssued        EventType = "ChallengeIssued"
	EventChallengePassed        EventType = "ChallengePassed"
	EventMultipleChallengeFails EventType = "MultipleChallengeFails"
	EventTokenReplayAttempt     EventType = "TokenReplayAttempt"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityLow      Severity = "low"
)

// SecurityEvent is created synchronously at decision time and owned by
// the webhook pipeline from enqueue until delivery or permanent failure.
type SecurityEvent struct {
	Type        EventType
	Severity    Severity
	Timestamp   time.Time
	RayID       string
	ClientIP    string
	Host        string
	UserAgent   string
	URL         string
	Method      string
	RuleID      int64
	RuleName    string
	CountryCode string
	Description string
	Data        map[string]string
}
