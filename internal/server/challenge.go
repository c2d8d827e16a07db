package server

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"fortgate/internal/check"
	"fortgate/internal/dataType"
)

// Form field names submitted by the challenge pages.
const (
	challengeFieldCsrf     = "fgm_csrf"
	challengeFieldRay      = "fgm_ray"
	challengeFieldRedirect = "fgm_redirect"
)

type challengePageData struct {
	EdgeTag     string
	ConnectIP   string
	RayID       string
	Date        string
	CsrfToken   string
	SubmitPath  string
	RedirectURI string
}

// renderChallengePage serves the interstitial for a challenge decision.
// The managed variant auto-submits; the interactive variant waits for a
// checkbox. Both carry a CSRF token bound to this ray id.
func renderChallengePage(w http.ResponseWriter, snap *dataType.RequestSnapshot, deps *Deps, interactive bool) {
	page := "challenge_managed.html"
	if interactive {
		page = "challenge_interactive.html"
	}
	tpl, err := template.ParseFiles(deps.Cfg.ErrorPage + "/" + page)
	if err != nil {
		deps.Logx.LogError(snap, fmt.Sprintf("Error parsing template: %v", err), "renderChallengePage")
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := challengePageData{
		EdgeTag:     deps.Cfg.NodeName,
		ConnectIP:   snap.ClientIP,
		RayID:       snap.RayID,
		Date:        time.Now().Format("2006-01-02 15:04:05"),
		CsrfToken:   deps.Clearance.GenerateCsrfToken(snap.RayID),
		SubmitPath:  deps.Cfg.WebPath + "/challenge",
		RedirectURI: snap.PathAndQuery,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusServiceUnavailable)
	if err = tpl.Execute(w, data); err != nil {
		deps.Logx.LogError(snap, fmt.Sprintf("Error executing template: %v", err), "renderChallengePage")
	}
}

// handleChallenge verifies a submitted challenge form. Success mints a
// clearance token and sends the client back to where it was headed;
// anything else counts as a failure against the client IP.
func handleChallenge(w http.ResponseWriter, r *http.Request, snap *dataType.RequestSnapshot, deps *Deps) {
	if r.Method != http.MethodPost {
		renderErrorPage(w, snap, deps, "403.html", http.StatusForbidden)
		return
	}

	// A clearance cookie arriving on the submit path that fails
	// validation is a replayed or forged token, not a fresh client.
	if stale := snap.Cookie(check.ClearanceCookieName); stale != "" {
		if !deps.Clearance.IsTokenValid(stale) || !deps.Clearance.ValidateTokenFingerprint(stale, snap) {
			deps.Clearance.NotifyTokenReplayAttempt(snap)
		}
	}

	rayID := r.FormValue(challengeFieldRay)
	csrfToken := r.FormValue(challengeFieldCsrf)
	if rayID == "" || !deps.Clearance.ValidateCsrfToken(rayID, csrfToken) {
		deps.Clearance.TrackChallengeFailure(snap, "csrf token mismatch")
		renderErrorPage(w, snap, deps, "403.html", http.StatusForbidden)
		return
	}

	if _, err := deps.Clearance.GenerateAndSetToken(w, snap); err != nil {
		deps.Logx.LogError(snap, fmt.Sprintf("Error generating clearance token: %v", err), "handleChallenge")
		http.Error(w, "500 - Internal Server Error", http.StatusInternalServerError)
		return
	}

	deps.Logx.LogInfo(snap, "challenge passed, clearance token issued", "handleChallenge")
	enqueueEvent(deps, snap, dataType.EventChallengePassed, dataType.SeverityLow, nil,
		"client passed the challenge and received a clearance token")

	http.Redirect(w, r, safeRedirect(r.FormValue(challengeFieldRedirect)), http.StatusFound)
}

// safeRedirect keeps the post-challenge redirect on this origin. Only
// same-site absolute paths pass; everything else falls back to /.
func safeRedirect(uri string) string {
	if uri == "" || !strings.HasPrefix(uri, "/") || strings.HasPrefix(uri, "//") {
		return "/"
	}
	return uri
}
