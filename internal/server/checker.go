package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fortgate/internal/action"
	"fortgate/internal/audit"
	"fortgate/internal/check"
	"fortgate/internal/dataType"
)

// CheckFunc is one stage of the decision pipeline. A stage that fixes
// the outcome marks the decision Done and later stages are skipped.
type CheckFunc func(snap *dataType.RequestSnapshot, deps *Deps, decision *action.Decision)

var checkFuncs = []CheckFunc{
	checkRateLimit,
	checkRules,
}

// CheckMain runs the decision pipeline for one request: rate limiter
// first (independent of rules), then the rule engine, then the
// clearance short-circuit for challenge outcomes. Every path feeds the
// audit pipeline; enforcement paths feed the webhook pipeline.
func CheckMain(w http.ResponseWriter, snap *dataType.RequestSnapshot, deps *Deps) {
	decision := action.NewDecision()
	for _, checkFunc := range checkFuncs {
		checkFunc(snap, deps, decision)
		if decision.State() == action.Done {
			break
		}
	}

	if decision.RateLimited() {
		finish(w, snap, deps, dataType.ActionBlock, nil, http.StatusTooManyRequests)
		return
	}

	actionID := decision.Outcome()
	rule := decision.MatchedRule()

	switch actionID {
	case dataType.ActionBlock:
		deps.Logx.LogInfo(snap, fmt.Sprintf("blocked by rule %d (%s)", rule.ID, rule.Name), "CheckMain")
		enqueueEvent(deps, snap, dataType.EventRequestBlocked, check.DetermineSeverityFromRule(rule), rule,
			fmt.Sprintf("request blocked by rule %q", rule.Name))
		finish(w, snap, deps, actionID, rule, http.StatusForbidden)

	case dataType.ActionManagedChallenge, dataType.ActionInteractiveChallenge:
		if hasValidClearance(snap, deps) {
			finish(w, snap, deps, dataType.ActionSkip, rule, http.StatusOK)
			return
		}
		enqueueEvent(deps, snap, dataType.EventChallengeIssued, check.DetermineSeverityFromRule(rule), rule,
			fmt.Sprintf("challenge issued by rule %q", rule.Name))
		renderChallengePage(w, snap, deps, actionID == dataType.ActionInteractiveChallenge)
		record(snap, deps, actionID, rule, http.StatusServiceUnavailable)

	case dataType.ActionLog:
		deps.Logx.LogInfo(snap, fmt.Sprintf("logged by rule %d (%s)", rule.ID, rule.Name), "CheckMain")
		finish(w, snap, deps, actionID, rule, http.StatusOK)

	case dataType.ActionTraffic:
		finish(w, snap, deps, actionID, rule, http.StatusOK)

	default: // skip
		finish(w, snap, deps, dataType.ActionSkip, rule, http.StatusOK)
	}
}

func checkRateLimit(snap *dataType.RequestSnapshot, deps *Deps, decision *action.Decision) {
	if !deps.Limiter.IsLimited(snap.ClientIP, deps.RateLimitMax, deps.RateLimitWindow) {
		decision.Set(dataType.ActionSkip)
		return
	}
	deps.Logx.LogInfo(snap, fmt.Sprintf("rate limit exceeded: %d/%ds", deps.RateLimitMax, deps.RateLimitWindow), "checkRateLimit")
	enqueueEvent(deps, snap, dataType.EventRateLimitExceeded, dataType.SeverityHigh, nil,
		fmt.Sprintf("client exceeded %d requests per %ds window", deps.RateLimitMax, deps.RateLimitWindow))
	decision.SetRateLimited()
}

func checkRules(snap *dataType.RequestSnapshot, deps *Deps, decision *action.Decision) {
	actionID, rule := deps.Engine.SelectAction(snap.Host, snap)
	if actionID == dataType.ActionSkip {
		decision.Set(dataType.ActionSkip)
		return
	}
	decision.SetDone(actionID, rule)
}

// hasValidClearance is the challenge short-circuit: an unexpired cached
// token whose decrypted fingerprint matches this client.
func hasValidClearance(snap *dataType.RequestSnapshot, deps *Deps) bool {
	token := snap.Cookie(check.ClearanceCookieName)
	if token == "" {
		return false
	}
	return deps.Clearance.IsTokenValid(token) && deps.Clearance.ValidateTokenFingerprint(token, snap)
}

// finish writes the response for a terminal decision and records both
// audit phases.
func finish(w http.ResponseWriter, snap *dataType.RequestSnapshot, deps *Deps, actionID dataType.ActionID, rule *dataType.Rule, status int) {
	switch status {
	case http.StatusOK:
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Allowed")); err != nil {
			deps.Logx.LogError(snap, fmt.Sprintf("Error writing response: %v", err), "CheckMain")
		}
	case http.StatusForbidden:
		renderErrorPage(w, snap, deps, "403.html", http.StatusForbidden)
	case http.StatusTooManyRequests:
		renderErrorPage(w, snap, deps, "429.html", http.StatusTooManyRequests)
	default:
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
	}
	record(snap, deps, actionID, rule, status)
}

// record enqueues the request- and response-phase audit entries.
func record(snap *dataType.RequestSnapshot, deps *Deps, actionID dataType.ActionID, rule *dataType.Rule, status int) {
	var appID int64
	if rule != nil {
		appID = rule.AppID
	} else if settings, err := deps.Repo.Settings(snap.Host); err == nil {
		appID = settings.AppID
	}
	deps.Audit.Enqueue(audit.NewRequestRecord(snap, rule, actionID, appID))
	deps.Audit.EnqueueResponse(&audit.ResponseRecord{
		RayID:      snap.RayID,
		Timestamp:  time.Now(),
		StatusCode: status,
	}, deps.Cfg.Audit.InsertResponses)
}

func enqueueEvent(deps *Deps, snap *dataType.RequestSnapshot, eventType dataType.EventType, severity dataType.Severity, rule *dataType.Rule, description string) {
	if !deps.Events.Enabled() {
		return
	}
	event := &dataType.SecurityEvent{
		Type:        eventType,
		Severity:    severity,
		Timestamp:   time.Now(),
		RayID:       snap.RayID,
		ClientIP:    snap.ClientIP,
		Host:        snap.Host,
		UserAgent:   snap.UserAgent,
		URL:         snap.AbsoluteURI(),
		Method:      snap.Method,
		CountryCode: snap.CountryISO2,
		Description: description,
	}
	if rule != nil {
		event.RuleID = rule.ID
		event.RuleName = rule.Name
	}
	deps.Events.EnqueueSecurityEvent(event)
}

type errorPageData struct {
	EdgeTag   string
	ConnectIP string
	RayID     string
	Date      string
}

func renderErrorPage(w http.ResponseWriter, snap *dataType.RequestSnapshot, deps *Deps, page string, status int) {
	tpl, err := template.ParseFiles(deps.Cfg.ErrorPage + "/" + page)
	if err != nil {
		deps.Logx.LogError(snap, fmt.Sprintf("Error parsing template: %v", err), "renderErrorPage")
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := errorPageData{
		EdgeTag:   deps.Cfg.NodeName,
		ConnectIP: snap.ClientIP,
		RayID:     snap.RayID,
		Date:      time.Now().Format("2006-01-02 15:04:05"),
	}
	if err = tpl.Execute(w, data); err != nil {
		deps.Logx.LogError(snap, fmt.Sprintf("Error executing template: %v", err), "renderErrorPage")
	}
}

func handleHealthCheck(w http.ResponseWriter, deps *Deps) {
	var builder strings.Builder
	builder.WriteString("ok\n")
	builder.WriteString("version=")
	builder.WriteString(dataType.FortGateVersion)
	builder.WriteString("\n")
	builder.WriteString("time=")
	builder.WriteString(time.Now().Format(time.RFC3339))
	builder.WriteString("\n")
	builder.WriteString("ts=")
	builder.WriteString(strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 3, 64))
	builder.WriteString("\n")
	builder.WriteString("node=")
	builder.WriteString(deps.Cfg.NodeName)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(builder.String())); err != nil {
		return
	}
}
