// Package bigsegment implements the client-side caching wrapper around
// a big segment store: a store holding large (possibly millions of
// contexts) segment membership lists that are computed and maintained
// out-of-band, outside the flag/segment data set itself.
//
// Grounded on the vendored BigSegmentStoreWrapper: a singleflight-
// collapsed membership cache backed by a bounded LRU, plus a
// ticker-driven poller that tracks store staleness and reports it as
// a Status independent of the main data source's status.
package bigsegment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Membership describes which segments a context is explicitly
// included in or excluded from, as computed by the out-of-band big
// segment processor (a generation hash bucket, a SQL view, etc).
type Membership struct {
	Included map[string]bool
	Excluded map[string]bool
}

// IncludedIn reports whether the membership explicitly includes
// segmentKey. Exclusion takes precedence over inclusion.
func (m Membership) IncludedIn(segmentKey string) (included, explicit bool) {
	if m.Excluded != nil && m.Excluded[segmentKey] {
		return false, true
	}
	if m.Included != nil && m.Included[segmentKey] {
		return true, true
	}
	return false, false
}

// Status reports the health of the big segment store as observed by
// the poller.
type Status string

const (
	// StatusNotConfigured is reported by evaluator callers when no big
	// segment store is wired in at all; Wrapper itself never reports
	// this value, since a Wrapper implies a configured store.
	StatusNotConfigured Status = "NOT_CONFIGURED"
	StatusHealthy       Status = "HEALTHY"
	StatusStale         Status = "STALE"
	StatusStoreError    Status = "STORE_ERROR"
)

// Store is the minimal interface a big segment backing store must
// satisfy: fetch one context's membership record, and report the age
// of the store's last successful synchronization with its upstream
// segment processor.
type Store interface {
	GetMembership(ctx context.Context, contextHash string) (*Membership, error)
	LastUpToDate(ctx context.Context) (time.Time, error)
	Close() error
}

const (
	defaultCacheSize = 1000
	defaultCacheTTL  = 5 * time.Minute
	defaultStaleTime = 2 * time.Minute
	pollInterval     = 30 * time.Second
)

// Wrapper adds an LRU membership cache and a background staleness
// poller in front of a Store, so that flag evaluation can query
// membership without making a store round trip on every evaluation.
type Wrapper struct {
	store     Store
	log       zerolog.Logger
	cache     *lru
	sf        singleflight.Group
	staleTime time.Duration

	statusMu       sync.RWMutex
	status         Status
	onStatusChange func(Status)

	pollMu      sync.Mutex
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
	pollActive  bool

	cacheHits   int64
	cacheMisses int64
}

// NewWrapper constructs a Wrapper around store. cacheSize <= 0 uses a
// default bound; cacheTTL <= 0 uses a default of five minutes;
// staleAfter <= 0 uses a default of two minutes.
func NewWrapper(store Store, cacheSize int, cacheTTL, staleAfter time.Duration, log zerolog.Logger) *Wrapper {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleTime
	}
	return &Wrapper{
		store:     store,
		log:       log,
		cache:     newLRU(cacheSize, cacheTTL),
		staleTime: staleAfter,
		status:    StatusHealthy,
	}
}

// OnStatusChange registers a callback invoked whenever the poller
// observes a status transition (e.g. HEALTHY -> STALE, or recovery
// back to HEALTHY after a STORE_ERROR). Typically wired to the C9
// broadcaster for big-segment-store status.
func (w *Wrapper) OnStatusChange(fn func(Status)) {
	w.onStatusChange = fn
}

// HashContextKey computes the cache/store key for a fully-qualified
// context key. The underlying store is keyed by hash rather than raw
// key so that large deployments don't leak literal context identifiers
// into a shared big segment store's storage layer.
func HashContextKey(fullyQualifiedKey string) string {
	sum := sha256.Sum256([]byte(fullyQualifiedKey))
	return hex.EncodeToString(sum[:])
}

// GetMembership returns the membership record for the given context
// key, consulting the cache first and collapsing concurrent misses
// for the same key into a single store call via singleflight.
func (w *Wrapper) GetMembership(ctx context.Context, fullyQualifiedKey string) (*Membership, error) {
	hash := HashContextKey(fullyQualifiedKey)

	if cached, ok := w.cache.get(hash); ok {
		atomic.AddInt64(&w.cacheHits, 1)
		if cached == nil {
			return nil, nil
		}
		return cached.(*Membership), nil
	}
	atomic.AddInt64(&w.cacheMisses, 1)

	v, err, _ := w.sf.Do(hash, func() (any, error) {
		m, err := w.store.GetMembership(ctx, hash)
		if err != nil {
			w.setStatus(StatusStoreError)
			return nil, err
		}
		w.cache.set(hash, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Membership), nil
}

// Status returns the last-observed store status, as maintained by the
// background poller (and, for STORE_ERROR, by a failed GetMembership
// call in between polls).
func (w *Wrapper) Status() Status {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	return w.status
}

// CacheStats returns the cumulative count of membership cache hits and
// misses, for metrics sampling.
func (w *Wrapper) CacheStats() (hits, misses int64) {
	return atomic.LoadInt64(&w.cacheHits), atomic.LoadInt64(&w.cacheMisses)
}

// ClearCache discards all cached membership records, e.g. in response
// to an out-of-band notification that the store's contents changed.
func (w *Wrapper) ClearCache() {
	w.cache.clear()
}

// SetPollingActive starts or stops the background staleness poller.
// Polling only needs to run while a consumer actually evaluates
// segment-match rules backed by this store.
func (w *Wrapper) SetPollingActive(ctx context.Context, active bool) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	if active == w.pollActive {
		return
	}
	w.pollActive = active

	if active {
		pollCtx, cancel := context.WithCancel(ctx)
		w.pollCancel = cancel
		w.pollDone = make(chan struct{})
		go w.runPollTask(pollCtx)
		return
	}

	if w.pollCancel != nil {
		w.pollCancel()
	}
	if w.pollDone != nil {
		<-w.pollDone
	}
}

// Close stops polling and the underlying store.
func (w *Wrapper) Close() error {
	w.SetPollingActive(context.Background(), false)
	return w.store.Close()
}

func (w *Wrapper) runPollTask(ctx context.Context) {
	defer close(w.pollDone)

	w.pollStoreAndUpdateStatus(ctx)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollStoreAndUpdateStatus(ctx)
		}
	}
}

func (w *Wrapper) pollStoreAndUpdateStatus(ctx context.Context) {
	lastUpToDate, err := w.store.LastUpToDate(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("big segment store unreachable during staleness poll")
		w.setStatus(StatusStoreError)
		return
	}

	if w.isStale(lastUpToDate) {
		w.setStatus(StatusStale)
		return
	}
	w.setStatus(StatusHealthy)
}

func (w *Wrapper) isStale(lastUpToDate time.Time) bool {
	if lastUpToDate.IsZero() {
		return true
	}
	return time.Since(lastUpToDate) > w.staleTime
}

func (w *Wrapper) setStatus(s Status) {
	w.statusMu.Lock()
	old := w.status
	w.status = s
	w.statusMu.Unlock()
	if old != s {
		if s == StatusStale {
			w.log.Warn().Msg("big segment store data is stale")
		}
		if w.onStatusChange != nil {
			w.onStatusChange(s)
		}
	}
}
