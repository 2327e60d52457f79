package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Polling is the polling-mode data source: it GETs a "/all" snapshot
// endpoint on a fixed interval, using ETag/If-None-Match to avoid
// reprocessing unchanged payloads.
//
// Grounded on the teacher's internal/client.Client request-building
// idiom and internal/api.handleSnapshot's ETag handling (mirrored here
// from the client's perspective).
type Polling struct {
	url      string
	interval time.Duration
	client   *http.Client
	sink     *UpdateSink
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	etag   string
}

// NewPolling constructs a Polling data source against url, polling
// every interval.
func NewPolling(url string, interval time.Duration, client *http.Client, sink *UpdateSink, log zerolog.Logger) *Polling {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Polling{url: url, interval: interval, client: client, sink: sink, log: log}
}

// Start begins polling in the background.
func (p *Polling) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	p.done = make(chan struct{})
	go p.run(ctx)
}

// Close stops polling and waits for the loop to exit.
func (p *Polling) Close() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if p.done != nil {
		<-p.done
	}
}

func (p *Polling) run(ctx context.Context) {
	defer close(p.done)

	p.pollOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Polling) pollOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.sink.UpdateStatus(StateInterrupted, ErrorInfo{Kind: ErrorKindNetworkError, Message: err.Error(), Time: time.Now()})
		return
	}
	if p.etag != "" {
		req.Header.Set("If-None-Match", p.etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.sink.UpdateStatus(StateInterrupted, ErrorInfo{Kind: ErrorKindNetworkError, Message: err.Error(), Time: time.Now()})
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		p.sink.UpdateStatus(StateValid, ErrorInfo{})
		return
	case http.StatusUnauthorized, http.StatusForbidden:
		p.sink.UpdateStatus(StateOff, ErrorInfo{Kind: ErrorKindErrorResponse, StatusCode: resp.StatusCode, Time: time.Now()})
		return
	case http.StatusOK:
		// fall through to body processing
	default:
		p.sink.UpdateStatus(StateInterrupted, ErrorInfo{Kind: ErrorKindErrorResponse, StatusCode: resp.StatusCode, Time: time.Now()})
		return
	}

	var msg putMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		p.sink.UpdateStatus(StateInterrupted, ErrorInfo{Kind: ErrorKindInvalidData, Message: err.Error(), Time: time.Now()})
		return
	}
	data, err := toFullDataSet(msg.Data)
	if err != nil {
		p.sink.UpdateStatus(StateInterrupted, ErrorInfo{Kind: ErrorKindInvalidData, Message: err.Error(), Time: time.Now()})
		return
	}

	ok := p.sink.Init(ctx, data)
	if !ok {
		// A commit failure here is reported as INITIALIZING with
		// LastError set to STORE_ERROR even if a prior poll had
		// already succeeded, deliberately diverging from Streaming's
		// use of INTERRUPTED for the same underlying condition: a
		// polling client has no independent signal that its snapshot
		// was ever durably applied, so it treats every failed commit
		// as "not yet initialized" rather than "temporarily down".
		p.sink.UpdateStatus(StateInitializing, ErrorInfo{
			Kind:    ErrorKindStoreError,
			Message: fmt.Sprintf("failed to commit poll result from %s", p.url),
			Time:    time.Now(),
		})
		return
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		p.etag = etag
	}
	p.sink.UpdateStatus(StateValid, ErrorInfo{})
}
