package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"fortgate/internal/dataType"

	"go.uber.org/zap"
)

const (
	// ThrottleLimit events of one type per window; the rest are dropped.
	ThrottleLimit = 100

	defaultThrottleWindow = time.Minute
	maxDeliveryAttempts   = 3
)

// Config is everything delivery needs. Endpoints is the raw
// delimiter-separated URL string from configuration.
type Config struct {
	Enabled        bool
	Endpoints      string
	Headers        map[string]string
	Authorization  string
	Application    string
	FailureLogPath string
	ThrottleWindow time.Duration
	Timeout        time.Duration
}

// Pipeline owns the event queue, throttle state and delivery worker.
// One instance lives for the whole process; nothing here is global.
type Pipeline struct {
	cfg    Config
	urls   []string
	client *http.Client
	logger *zap.Logger

	queue    chan *dataType.SecurityEvent
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once

	throttleMu  sync.Mutex
	counters    map[dataType.EventType]int
	windowStart time.Time
}

func NewPipeline(cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = defaultThrottleWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	p := &Pipeline{
		cfg:         cfg,
		urls:        SplitEndpoints(cfg.Endpoints),
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger,
		queue:       make(chan *dataType.SecurityEvent, 512),
		counters:    make(map[dataType.EventType]int),
		windowStart: time.Now(),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// SplitEndpoints parses the configured URL string: comma or semicolon
// separated, entries trimmed, empties skipped.
func SplitEndpoints(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	urls := parts[:0]
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}

// Enabled reports whether events should be produced at all. Callers may
// use this to skip building events that would be discarded anyway.
func (p *Pipeline) Enabled() bool {
	return p != nil && p.cfg.Enabled
}

// EnqueueSecurityEvent hands an event to the delivery worker. No-op on
// a disabled pipeline or nil event; silently drops once the event's
// type hits the throttle limit for the current window.
func (p *Pipeline) EnqueueSecurityEvent(event *dataType.SecurityEvent) {
	if !p.Enabled() || event == nil {
		return
	}
	if p.throttled(event.Type) {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	select {
	case p.queue <- event:
	default:
		p.logger.Warn("webhook queue full, dropping event", zap.String("event_type", string(event.Type)))
	}
}

// QueueLen is the number of events waiting for delivery.
func (p *Pipeline) QueueLen() int {
	return len(p.queue)
}

// throttled counts the enqueue attempt and reports whether the type is
// over the per-window limit. The reset check and the increment share
// one lock so two racing clients cannot both observe a stale window.
func (p *Pipeline) throttled(eventType dataType.EventType) bool {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	now := time.Now()
	if now.Sub(p.windowStart) >= p.cfg.ThrottleWindow {
		p.counters = make(map[dataType.EventType]int)
		p.windowStart = now
	}
	if p.counters[eventType] >= ThrottleLimit {
		return true
	}
	p.counters[eventType]++
	return false
}

// ResetThrottle clears the counters and starts a fresh window. Exposed
// for operations and test isolation.
func (p *Pipeline) ResetThrottle() {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	p.counters = make(map[dataType.EventType]int)
	p.windowStart = time.Now()
}

// advanceWindow backdates the current window start; test hook for the
// elapsed-window path.
func (p *Pipeline) advanceWindow(d time.Duration) {
	p.throttleMu.Lock()
	defer p.throttleMu.Unlock()
	p.windowStart = p.windowStart.Add(-d)
}

// Stop closes the queue and waits for the worker. Events still waiting
// for retries may be abandoned; delivery is best-effort on shutdown.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
	})
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for event := range p.queue {
		p.deliver(event)
	}
}

// envelope is the wire shape of one delivered event. Field names are a
// compatibility surface; consumers key on event_type and ray_id.
type envelope struct {
	EventType   string            `json:"event_type"`
	RayID       string            `json:"ray_id"`
	Application string            `json:"application"`
	Severity    string            `json:"severity"`
	Timestamp   string            `json:"timestamp"`
	ClientIP    string            `json:"client_ip"`
	Host        string            `json:"host"`
	UserAgent   string            `json:"user_agent"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	RuleID      int64             `json:"rule_id,omitempty"`
	RuleName    string            `json:"rule_name,omitempty"`
	CountryCode string            `json:"country_code,omitempty"`
	Description string            `json:"description"`
	Data        map[string]string `json:"data,omitempty"`
}

func (p *Pipeline) deliver(event *dataType.SecurityEvent) {
	payload, err := json.Marshal(envelope{
		EventType:   string(event.Type),
		RayID:       event.RayID,
		Application: p.cfg.Application,
		Severity:    string(event.Severity),
		Timestamp:   event.Timestamp.UTC().Format(time.RFC3339),
		ClientIP:    event.ClientIP,
		Host:        event.Host,
		UserAgent:   event.UserAgent,
		URL:         event.URL,
		Method:      event.Method,
		RuleID:      event.RuleID,
		RuleName:    event.RuleName,
		CountryCode: event.CountryCode,
		Description: event.Description,
		Data:        event.Data,
	})
	if err != nil {
		p.logger.Error("webhook payload encode failed", zap.Error(err))
		return
	}

	delivered := false
	for _, url := range p.urls {
		if p.post(url, payload) {
			delivered = true
		}
	}
	if !delivered && len(p.urls) > 0 {
		p.writeFailureLog(payload)
	}
}

// post tries one endpoint with bounded retries. Success is any 2xx.
func (p *Pipeline) post(url string, payload []byte) bool {
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			p.logger.Error("webhook request build failed", zap.String("url", url), zap.Error(err))
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range p.cfg.Headers {
			req.Header.Set(k, v)
		}
		if p.cfg.Authorization != "" {
			req.Header.Set("Authorization", p.cfg.Authorization)
		}

		resp, err := p.client.Do(req)
		if err == nil {
			status := resp.StatusCode
			_ = resp.Body.Close()
			if status >= 200 && status < 300 {
				return true
			}
			p.logger.Warn("webhook delivery rejected",
				zap.String("url", url), zap.Int("status", status), zap.Int("attempt", attempt))
		} else {
			p.logger.Warn("webhook delivery failed",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		}
		if attempt < maxDeliveryAttempts {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
	}
	return false
}

// writeFailureLog appends the undeliverable payload to a local file so
// events are not lost silently. Best-effort only.
func (p *Pipeline) writeFailureLog(payload []byte) {
	if p.cfg.FailureLogPath == "" {
		return
	}
	f, err := os.OpenFile(p.cfg.FailureLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.logger.Error("webhook failure log open failed", zap.Error(err))
		return
	}
	defer func() {
		if err := f.Close(); err != nil {
			p.logger.Error("webhook failure log close failed", zap.Error(err))
		}
	}()
	line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), payload)
	if _, err := f.WriteString(line); err != nil {
		p.logger.Error("webhook failure log write failed", zap.Error(err))
	}
}
