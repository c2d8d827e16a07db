package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fortgate/internal/dataType"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEvent(eventType dataType.EventType) *dataType.SecurityEvent {
	return &dataType.SecurityEvent{
		Type:        eventType,
		Severity:    dataType.SeverityHigh,
		Timestamp:   time.Now(),
		RayID:       "ray-1",
		ClientIP:    "203.0.113.7",
		Host:        "test.com",
		Method:      "GET",
		URL:         "http://test.com/",
		Description: "test event",
	}
}

// throttleOnly builds a pipeline without a running worker so queue
// contents stay observable.
func throttleOnly(window time.Duration) *Pipeline {
	return &Pipeline{
		cfg:         Config{Enabled: true, ThrottleWindow: window},
		logger:      zap.NewNop(),
		queue:       make(chan *dataType.SecurityEvent, 512),
		counters:    make(map[dataType.EventType]int),
		windowStart: time.Now(),
	}
}

func TestSplitEndpoints(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"http://a/hook", []string{"http://a/hook"}},
		{"http://a/hook,http://b/hook", []string{"http://a/hook", "http://b/hook"}},
		{"http://a/hook; http://b/hook ,", []string{"http://a/hook", "http://b/hook"}},
		{"", nil},
		{" ,; ", nil},
	}
	for _, tt := range tests {
		got := SplitEndpoints(tt.raw)
		assert.Len(t, got, len(tt.want), "SplitEndpoints(%q)", tt.raw)
		for i := range tt.want {
			assert.Equal(t, tt.want[i], got[i])
		}
	}
}

func TestEnqueueThrottlePerEventType(t *testing.T) {
	p := throttleOnly(time.Minute)

	for i := 0; i < ThrottleLimit; i++ {
		p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	}
	assert.Equal(t, ThrottleLimit, p.QueueLen(), "all events inside the limit must queue")

	p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	assert.Equal(t, ThrottleLimit, p.QueueLen(), "event past the limit must drop")

	// a different type has its own counter
	p.EnqueueSecurityEvent(testEvent(dataType.EventChallengeIssued))
	assert.Equal(t, ThrottleLimit+1, p.QueueLen())
}

func TestEnqueueThrottleWindowReset(t *testing.T) {
	p := throttleOnly(time.Minute)

	for i := 0; i < ThrottleLimit+10; i++ {
		p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	}
	require.Equal(t, ThrottleLimit, p.QueueLen())

	p.advanceWindow(2 * time.Minute)
	p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	assert.Equal(t, ThrottleLimit+1, p.QueueLen(), "fresh window must accept events again")
}

func TestResetThrottle(t *testing.T) {
	p := throttleOnly(time.Minute)

	for i := 0; i < ThrottleLimit; i++ {
		p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	}
	p.ResetThrottle()
	p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	assert.Equal(t, ThrottleLimit+1, p.QueueLen())
}

func TestEnqueueDisabledPipeline(t *testing.T) {
	var nilPipeline *Pipeline
	assert.False(t, nilPipeline.Enabled())
	nilPipeline.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))

	p := throttleOnly(time.Minute)
	p.cfg.Enabled = false
	p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
	assert.Zero(t, p.QueueLen())
}

func TestEnqueueNilEvent(t *testing.T) {
	p := throttleOnly(time.Minute)
	p.EnqueueSecurityEvent(nil)
	assert.Zero(t, p.QueueLen())
}

func TestDeliveryEnvelope(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]interface{}
	var gotAuth, gotCustom string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		received = append(received, body)
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Custom")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPipeline(Config{
		Enabled:       true,
		Endpoints:     srv.URL,
		Headers:       map[string]string{"X-Custom": "yes"},
		Authorization: "Bearer hook-secret",
		Application:   "fortgate-test",
	}, zap.NewNop())

	event := testEvent(dataType.EventRequestBlocked)
	event.RuleID = 7
	event.RuleName = "block bots"
	p.EnqueueSecurityEvent(event)
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	body := received[0]
	assert.Equal(t, "RequestBlocked", body["event_type"])
	assert.Equal(t, "ray-1", body["ray_id"])
	assert.Equal(t, "fortgate-test", body["application"])
	assert.Equal(t, "high", body["severity"])
	assert.Equal(t, "block bots", body["rule_name"])
	assert.Equal(t, float64(7), body["rule_id"])
	assert.Equal(t, "Bearer hook-secret", gotAuth)
	assert.Equal(t, "yes", gotCustom)
}

func TestDeliveryFansOutToAllEndpoints(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	handler := func(name string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}
	a := httptest.NewServer(handler("a"))
	defer a.Close()
	b := httptest.NewServer(handler("b"))
	defer b.Close()

	p := NewPipeline(Config{Enabled: true, Endpoints: a.URL + "," + b.URL}, zap.NewNop())
	p.EnqueueSecurityEvent(testEvent(dataType.EventChallengePassed))
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits["a"])
	assert.Equal(t, 1, hits["b"])
}

func TestDeliveryRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPipeline(Config{Enabled: true, Endpoints: srv.URL}, zap.NewNop())
	p.EnqueueSecurityEvent(testEvent(dataType.EventRateLimitExceeded))
	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts, "second attempt must succeed and stop the retries")
}

func TestDeliveryFailureWritesLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	logPath := filepath.Join(t.TempDir(), "webhook_failures.log")
	p := NewPipeline(Config{
		Enabled:        true,
		Endpoints:      srv.URL,
		FailureLogPath: logPath,
	}, zap.NewNop())
	p.EnqueueSecurityEvent(testEvent(dataType.EventTokenReplayAttempt))
	p.Stop()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err, "failure log must exist after a failed delivery")
	assert.Contains(t, string(data), "TokenReplayAttempt")
	assert.Contains(t, string(data), "ray-1")
}

func TestStopIdempotentAndEnqueueSafeAfterStop(t *testing.T) {
	p := NewPipeline(Config{Enabled: true}, zap.NewNop())
	p.Stop()
	p.Stop()
	p.EnqueueSecurityEvent(testEvent(dataType.EventRequestBlocked))
}
