package check

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"fortgate/internal/dataType"
	"fortgate/internal/rules"
	"fortgate/internal/utils"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const (
	// ClearanceCookieName carries the encrypted clearance token.
	ClearanceCookieName = "fgm_clearance"

	csrfKeyPrefix = "CSRF_"
	csrfTokenTTL  = 30 * time.Minute

	// ChallengeFailureThreshold failures inside one window raise a
	// MultipleChallengeFails event, once per crossing.
	ChallengeFailureThreshold = 3
)

// Sealer is the encryption capability the protocol consumes.
type Sealer interface {
	Encrypt(text, key string) (string, error)
	Decrypt(cipherText, key string) (string, error)
}

// EventSink receives security events for asynchronous delivery.
type EventSink interface {
	EnqueueSecurityEvent(event *dataType.SecurityEvent)
	Enabled() bool
}

// Clearance owns the challenge-token and CSRF protocol: issuing CSRF
// tokens for challenge forms, minting fingerprint-bound clearance
// tokens, and tracking abuse of the challenge endpoint.
type Clearance struct {
	cache         *dataType.TokenCache
	sealer        Sealer
	key           string
	repo          rules.Repository
	failures      *dataType.RateTracker
	failureWindow int64
	events        EventSink
	logx          *utils.LogxManager
}

func NewClearance(cache *dataType.TokenCache, sealer Sealer, key string, repo rules.Repository,
	failures *dataType.RateTracker, failureWindowSeconds int64, events EventSink, logx *utils.LogxManager) *Clearance {
	return &Clearance{
		cache:         cache,
		sealer:        sealer,
		key:           key,
		repo:          repo,
		failures:      failures,
		failureWindow: failureWindowSeconds,
		events:        events,
		logx:          logx,
	}
}

// GenerateCsrfToken mints the token embedded in a challenge form and
// caches it under the request's ray id.
func (c *Clearance) GenerateCsrfToken(rayID string) string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	c.cache.Insert(csrfKeyPrefix+rayID, token, time.Now().Add(csrfTokenTTL))
	return token
}

// ValidateCsrfToken is true iff a token was generated for this ray id
// and the submission matches it exactly. One-time use is not enforced.
func (c *Clearance) ValidateCsrfToken(rayID, submitted string) bool {
	if submitted == "" {
		return false
	}
	cached, ok := c.cache.Get(csrfKeyPrefix + rayID)
	return ok && cached == submitted
}

// GenerateClientFingerprint derives a stable request-discriminating hash
// from client IP and normalized user agent. Deterministic, not
// collision-resistant; it only has to separate honest clients.
func (c *Clearance) GenerateClientFingerprint(snap *dataType.RequestSnapshot) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(snap.ClientIP+"|"+utils.ClearanceUserAgent(snap.UserAgent)))
}

// GenerateAndSetToken mints a clearance token bound to the client
// fingerprint, caches it until the host's configured expiry and sets it
// as the clearance cookie on the response.
func (c *Clearance) GenerateAndSetToken(w http.ResponseWriter, snap *dataType.RequestSnapshot) (string, error) {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	payload := raw + "|" + c.GenerateClientFingerprint(snap)
	sealed, err := c.sealer.Encrypt(payload, c.key)
	if err != nil {
		return "", fmt.Errorf("seal clearance token: %w", err)
	}

	settings, err := c.repo.Settings(snap.Host)
	if err != nil && c.logx != nil {
		c.logx.LogError(snap, fmt.Sprintf("host settings unavailable, using defaults: %v", err), "GenerateAndSetToken")
	}
	hours := settings.TokenExpirationHours
	if hours <= 0 {
		hours = rules.DefaultTokenExpirationHours
	}
	expiresAt := time.Now().Add(time.Duration(hours) * time.Hour)
	c.cache.Insert(sealed, raw, expiresAt)

	http.SetCookie(w, &http.Cookie{
		Name:     ClearanceCookieName,
		Value:    sealed,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   snap.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return sealed, nil
}

// IsTokenValid is true iff the cache still holds an unexpired entry for
// this exact token string.
func (c *Clearance) IsTokenValid(token string) bool {
	if token == "" {
		return false
	}
	expiry, ok := c.cache.Expiry(token)
	return ok && expiry.After(time.Now())
}

// ValidateTokenFingerprint decrypts the token and requires its bound
// fingerprint to equal the presenting request's. Decrypt failures and
// malformed payloads (anything but exactly two parts) read as invalid.
func (c *Clearance) ValidateTokenFingerprint(token string, snap *dataType.RequestSnapshot) bool {
	plain, err := c.sealer.Decrypt(token, c.key)
	if err != nil {
		return false
	}
	parts := strings.Split(plain, "|")
	if len(parts) != 2 {
		return false
	}
	return parts[1] == c.GenerateClientFingerprint(snap)
}

// TrackChallengeFailure counts failed challenge attempts per client IP.
// The crossing of the threshold inside one window emits exactly one
// MultipleChallengeFails event; counting continues afterwards.
func (c *Clearance) TrackChallengeFailure(snap *dataType.RequestSnapshot, reason string) {
	count := c.failures.Hit(snap.ClientIP, c.failureWindow)
	if c.logx != nil {
		c.logx.LogInfo(snap, fmt.Sprintf("challenge failure %d: %s", count, reason), "TrackChallengeFailure")
	}
	if count != ChallengeFailureThreshold {
		return
	}
	if c.events == nil || !c.events.Enabled() {
		return
	}
	c.events.EnqueueSecurityEvent(&dataType.SecurityEvent{
		Type:        dataType.EventMultipleChallengeFails,
		Severity:    dataType.SeverityHigh,
		Timestamp:   time.Now(),
		RayID:       snap.RayID,
		ClientIP:    snap.ClientIP,
		Host:        snap.Host,
		UserAgent:   snap.UserAgent,
		URL:         snap.AbsoluteURI(),
		Method:      snap.Method,
		CountryCode: snap.CountryISO2,
		Description: fmt.Sprintf("client failed %d challenges within the window: %s", count, reason),
		Data:        map[string]string{"reason": reason},
	})
}

// NotifyTokenReplayAttempt reports a resubmitted or invalid clearance
// token. Gated on the webhook feature: disabled means no side effect.
func (c *Clearance) NotifyTokenReplayAttempt(snap *dataType.RequestSnapshot) {
	if c.events == nil || !c.events.Enabled() {
		return
	}
	c.events.EnqueueSecurityEvent(&dataType.SecurityEvent{
		Type:        dataType.EventTokenReplayAttempt,
		Severity:    dataType.SeverityHigh,
		Timestamp:   time.Now(),
		RayID:       snap.RayID,
		ClientIP:    snap.ClientIP,
		Host:        snap.Host,
		UserAgent:   snap.UserAgent,
		URL:         snap.AbsoluteURI(),
		Method:      snap.Method,
		CountryCode: snap.CountryISO2,
		Description: "clearance token replay attempt detected",
	})
}
