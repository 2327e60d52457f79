package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config configures a Pipeline.
type Config struct {
	Capacity                    int
	FlushInterval               time.Duration
	ContextKeysCapacity         int
	DiagnosticRecordingInterval time.Duration
	BaseURI                     string
	Client                      *http.Client
	Clock                       Clock
	Log                         zerolog.Logger
}

// Pipeline accumulates and delivers analytics events. Add is safe to
// call concurrently and never blocks the caller; overflow drops the
// event and increments a counter surfaced via diagnostics.
//
// Grounded on the teacher's internal/webhook.Dispatcher (bounded
// channel + single background worker consuming it) and
// internal/audit.Service (Clock seam, atomic close guard). The single
// select loop below plays the role of both spec.md §5's "inbox
// worker" (dedup + summarise + buffer) and "flush worker" (timer-
// triggered POST), collapsed into one goroutine since nothing in this
// pipeline's state needs cross-goroutine locking once events enter
// the channel.
type Pipeline struct {
	cfg    Config
	client *http.Client
	clock  Clock

	inbox       chan Event
	flushSignal chan struct{}
	closed      int32
	done        chan struct{}
	cancel      context.CancelFunc

	debug        debugClock
	mustShutdown int32

	droppedEvents      int64
	deduplicatedCtxKeys int64
	eventsInLastBatch  int64
	streamInits        []StreamInit
	streamInitsMu      sync.Mutex
}

// StreamInit records one data-source (re)connection attempt for the
// diagnostic stats record.
type StreamInit struct {
	Timestamp int64 `json:"timestamp"`
	DurationMs int64 `json:"durationMs"`
	Failed    bool  `json:"failed"`
}

// New constructs a Pipeline per cfg. Capacity <= 0 defaults to 1000;
// FlushInterval <= 0 defaults to 5 seconds.
func New(cfg Config) *Pipeline {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.ContextKeysCapacity <= 0 {
		cfg.ContextKeysCapacity = 1000
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	return &Pipeline{
		cfg:         cfg,
		client:      cfg.Client,
		clock:       cfg.Clock,
		inbox:       make(chan Event, cfg.Capacity),
		flushSignal: make(chan struct{}, 1),
	}
}

// Flush requests an out-of-cycle delivery of whatever is currently
// buffered, without waiting for the next flush-interval tick. At most
// one pending flush request is coalesced; Flush never blocks.
func (p *Pipeline) Flush() {
	select {
	case p.flushSignal <- struct{}{}:
	default:
	}
}

// Add enqueues an event for eventual delivery. Non-blocking: if the
// inbox is full, the event is dropped and the drop counter is
// incremented.
func (p *Pipeline) Add(e Event) {
	if atomic.LoadInt32(&p.mustShutdown) != 0 {
		return
	}
	if e.CreationDate == 0 {
		e.CreationDate = nowMillis(p.clock)
	}
	select {
	case p.inbox <- e:
	default:
		atomic.AddInt64(&p.droppedEvents, 1)
	}
}

// QueueDepth reports how many events are currently buffered awaiting
// the next flush, for metrics sampling.
func (p *Pipeline) QueueDepth() int {
	return len(p.inbox)
}

// DroppedEvents reports the cumulative count of events dropped because
// the inbox was full, for metrics sampling.
func (p *Pipeline) DroppedEvents() int64 {
	return atomic.LoadInt64(&p.droppedEvents)
}

// RecordStreamInit records a data-source connection attempt for
// inclusion in the next diagnostic stats record.
func (p *Pipeline) RecordStreamInit(si StreamInit) {
	p.streamInitsMu.Lock()
	defer p.streamInitsMu.Unlock()
	p.streamInits = append(p.streamInits, si)
}

// Start begins the background event loop. Call Close to flush and
// stop.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Close flushes any buffered events (bounded by a short timeout) and
// stops the background loop. Safe to call multiple times.
func (p *Pipeline) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		<-p.done
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	dedup := newContextDedup(p.cfg.ContextKeysCapacity)
	summary := newSummaryAccumulator(nowMillis(p.clock))
	var buffer []any

	flushTicker := time.NewTicker(p.cfg.FlushInterval)
	defer flushTicker.Stop()

	var diagTicker *time.Ticker
	if p.cfg.DiagnosticRecordingInterval > 0 {
		diagTicker = time.NewTicker(p.cfg.DiagnosticRecordingInterval)
		defer diagTicker.Stop()
		p.deliverDiagnosticInit(ctx)
	}
	var diagC <-chan time.Time
	if diagTicker != nil {
		diagC = diagTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			if atomic.LoadInt32(&p.mustShutdown) == 0 {
				// Ingest what Add has already queued before the final flush.
				for n := len(p.inbox); n > 0; n-- {
					p.ingest(<-p.inbox, dedup, summary, &buffer)
				}
				drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				p.flush(drainCtx, &buffer, summary)
				cancel()
			}
			return

		case e, ok := <-p.inbox:
			if !ok {
				return
			}
			p.ingest(e, dedup, summary, &buffer)

		case <-flushTicker.C:
			if atomic.LoadInt32(&p.mustShutdown) != 0 {
				buffer = nil
				continue
			}
			p.flush(ctx, &buffer, summary)
			dedup.reset()
			summary = newSummaryAccumulator(nowMillis(p.clock))

		case <-p.flushSignal:
			if atomic.LoadInt32(&p.mustShutdown) != 0 {
				continue
			}
			p.flush(ctx, &buffer, summary)
			dedup.reset()
			summary = newSummaryAccumulator(nowMillis(p.clock))

		case <-diagC:
			if atomic.LoadInt32(&p.mustShutdown) != 0 {
				continue
			}
			p.deliverDiagnosticStats(ctx)
		}
	}
}

func (p *Pipeline) ingest(e Event, dedup *contextDedup, summary *summaryAccumulator, buffer *[]any) {
	if e.Kind == KindFeature && e.SamplingRatio > 0 && !shouldSample(e.SamplingRatio) {
		return
	}

	if e.ContextKey != "" {
		if dedup.seenOrRecord(e.ContextKey) {
			atomic.AddInt64(&p.deduplicatedCtxKeys, 1)
		} else {
			*buffer = append(*buffer, Event{Kind: KindIndex, CreationDate: e.CreationDate, ContextKey: e.ContextKey, Context: e.Context})
		}
	}

	summary.record(e)

	if e.Kind == KindFeature {
		debugEligible := p.debug.shouldEmitDebug(e.DebugUntil, e.CreationDate)
		if !e.TrackEvents && !debugEligible {
			return
		}
		e.Debug = debugEligible
	}

	p.appendBounded(buffer, e)
}

func (p *Pipeline) appendBounded(buffer *[]any, v any) {
	if len(*buffer) >= p.cfg.Capacity {
		atomic.AddInt64(&p.droppedEvents, 1)
		return
	}
	*buffer = append(*buffer, v)
}

func (p *Pipeline) flush(ctx context.Context, buffer *[]any, summary *summaryAccumulator) {
	if se, ok := summary.flush(nowMillis(p.clock)); ok {
		*buffer = append(*buffer, se)
	}
	if len(*buffer) == 0 {
		return
	}
	batch := *buffer
	*buffer = nil
	atomic.StoreInt64(&p.eventsInLastBatch, int64(len(batch)))

	p.deliver(ctx, "/bulk", batch)
}

// deliver POSTs payload as JSON (an array for event batches, an object
// for diagnostic records), retrying once on a transport error, and
// honouring the response's Date header and its mustShutdown/serverTime
// fields; the success field is not consulted. A 401/403 response also
// triggers mustShutdown.
func (p *Pipeline) deliver(ctx context.Context, path string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		p.cfg.Log.Error().Err(err).Msg("failed to marshal event batch")
		return
	}

	resp, err := p.post(ctx, path, body)
	if err != nil {
		resp, err = p.post(ctx, path, body) // single immediate retry
	}
	if err != nil {
		p.cfg.Log.Warn().Err(err).Msg("event delivery failed after retry")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		atomic.StoreInt32(&p.mustShutdown, 1)
		p.cfg.Log.Error().Int("status", resp.StatusCode).Msg("event delivery unauthorized; shutting down pipeline")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.cfg.Log.Warn().Int("status", resp.StatusCode).Msg("event delivery rejected")
		return
	}

	if dateHdr := resp.Header.Get("Date"); dateHdr != "" {
		if t, err := http.ParseTime(dateHdr); err == nil {
			p.debug.observeServerTime(t.UnixMilli())
		}
	}

	var decoded DeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err == nil {
		if decoded.ServerTime > 0 {
			p.debug.observeServerTime(decoded.ServerTime)
		}
		if decoded.MustShutdown {
			atomic.StoreInt32(&p.mustShutdown, 1)
		}
	}
}

func (p *Pipeline) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURI+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build event delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.Do(req)
}

func (p *Pipeline) deliverDiagnosticInit(ctx context.Context) {
	rec := map[string]any{
		"kind":      "diagnostic-init",
		"creationDate": nowMillis(p.clock),
	}
	p.deliver(ctx, "/diagnostic", rec)
}

func (p *Pipeline) deliverDiagnosticStats(ctx context.Context) {
	p.streamInitsMu.Lock()
	inits := p.streamInits
	p.streamInits = nil
	p.streamInitsMu.Unlock()

	rec := map[string]any{
		"kind":               "diagnostic-statistics",
		"creationDate":       nowMillis(p.clock),
		"droppedEvents":      atomic.SwapInt64(&p.droppedEvents, 0),
		"deduplicatedUsers":  atomic.SwapInt64(&p.deduplicatedCtxKeys, 0),
		"eventsInLastBatch":  atomic.LoadInt64(&p.eventsInLastBatch),
		"streamInits":        inits,
	}
	p.deliver(ctx, "/diagnostic", rec)
}
