package audit

import (
	"sync"
	"time"

	"fortgate/internal/dataType"
	"fortgate/internal/utils"

	"go.uber.org/zap"
)

// RequestRecord is the sanitized request-phase audit entry. Body is
// whatever the snapshot materialized, already capped.
type RequestRecord struct {
	RayID         string            `json:"ray_id"`
	Timestamp     time.Time         `json:"timestamp"`
	ClientIP      string            `json:"client_ip"`
	Method        string            `json:"method"`
	Host          string            `json:"host"`
	Path          string            `json:"path"`
	CanonicalPath string            `json:"canonical_path"`
	QueryString   string            `json:"query_string"`
	UserAgent     string            `json:"user_agent"`
	Referrer      string            `json:"referrer"`
	ContentType   string            `json:"content_type"`
	BodyLength    int64             `json:"body_length"`
	Body          string            `json:"body,omitempty"`
	CountryISO2   string            `json:"country_iso2"`
	Action        dataType.ActionID `json:"action"`
	RuleID        int64             `json:"rule_id,omitempty"`
	RuleName      string            `json:"rule_name,omitempty"`
	AppID         int64             `json:"app_id"`
}

// ResponseRecord is the response-phase entry, correlated to its request
// by ray id only; the two phases may persist out of order.
type ResponseRecord struct {
	RayID      string    `json:"ray_id"`
	Timestamp  time.Time `json:"timestamp"`
	StatusCode int       `json:"status_code"`
	BodyLength int64     `json:"body_length"`
}

// Store persists audit records. Implementations run only on pipeline
// workers, never on request threads.
type Store interface {
	SaveRequest(rec *RequestRecord) error
	SaveResponse(rec *ResponseRecord) error
	Close() error
}

// NewRequestRecord derives the request-phase entry from a snapshot and
// the decision made for it. Body is captured only for rules that ask
// for body inspection-grade auditing (block and challenge outcomes).
func NewRequestRecord(snap *dataType.RequestSnapshot, rule *dataType.Rule, actionID dataType.ActionID, appID int64) *RequestRecord {
	rec := &RequestRecord{
		RayID:         snap.RayID,
		Timestamp:     time.Now(),
		ClientIP:      snap.ClientIP,
		Method:        snap.Method,
		Host:          snap.Host,
		Path:          snap.Path,
		CanonicalPath: utils.CanonicalizeURI(snap.PathAndQuery),
		QueryString:   snap.QueryString,
		UserAgent:     snap.UserAgent,
		Referrer:      snap.Referrer,
		ContentType:   snap.ContentType,
		BodyLength:    snap.BodyLength,
		CountryISO2:   snap.CountryISO2,
		Action:        actionID,
		AppID:         appID,
	}
	if rule != nil {
		rec.RuleID = rule.ID
		rec.RuleName = rule.Name
	}
	switch actionID {
	case dataType.ActionBlock, dataType.ActionManagedChallenge, dataType.ActionInteractiveChallenge:
		rec.Body = snap.Body()
	}
	return rec
}

type queueItem struct {
	req  *RequestRecord
	resp *ResponseRecord
}

// Pipeline decouples audit persistence from request threads: Enqueue*
// never block, background workers stream records to the store.
type Pipeline struct {
	store    Store
	logger   *zap.Logger
	queue    chan queueItem
	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

func NewPipeline(store Store, logger *zap.Logger, queueSize, workers int) *Pipeline {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	p := &Pipeline{
		store:  store,
		logger: logger,
		queue:  make(chan queueItem, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Enqueue hands a request record to the background workers. A full
// queue drops the record rather than stall the request.
func (p *Pipeline) Enqueue(rec *RequestRecord) {
	if rec == nil {
		return
	}
	p.push(queueItem{req: rec})
}

// EnqueueResponse hands over a response record. insert=false drops the
// record up front; the caller only wanted the read-path side effects.
func (p *Pipeline) EnqueueResponse(rec *ResponseRecord, insert bool) {
	if rec == nil || !insert {
		return
	}
	p.push(queueItem{resp: rec})
}

func (p *Pipeline) push(item queueItem) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	select {
	case p.queue <- item:
	default:
		p.logger.Warn("audit queue full, dropping record")
	}
}

// Stop drains queued records, then closes the store. Safe to call more
// than once; later Enqueue calls become no-ops.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		close(p.queue)
		p.mu.Unlock()
		p.wg.Wait()
		if err := p.store.Close(); err != nil {
			p.logger.Warn("audit store close failed", zap.Error(err))
		}
	})
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for item := range p.queue {
		var err error
		switch {
		case item.req != nil:
			err = p.store.SaveRequest(item.req)
		case item.resp != nil:
			err = p.store.SaveResponse(item.resp)
		}
		if err != nil {
			p.logger.Warn("audit save failed", zap.Error(err))
		}
	}
}
