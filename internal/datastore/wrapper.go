package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// CacheTTL controls PersistentWrapper's caching mode.
//
//   - CacheTTL == 0: uncached; every read hits the persistent store.
//   - CacheTTL  > 0: finite TTL; entries expire and are refetched.
//   - CacheTTL  < 0: infinite cache; entries never expire (writes
//     through the wrapper update them in place), matching the teacher's
//     convention of using a negative duration to mean "forever" rather
//     than adding a separate bool.
type CacheTTL time.Duration

const (
	CacheTTLNone     CacheTTL = 0
	CacheTTLInfinite CacheTTL = -1
)

type cacheEntry struct {
	items   map[string]flagmodel.ItemDescriptor
	allOf   bool // true if this entry represents the full All() result
	expires time.Time
	forever bool
}

func (e cacheEntry) expired(now time.Time) bool {
	if e.forever {
		return false
	}
	return now.After(e.expires)
}

// PersistentWrapper adds caching, request coalescing, and outage
// detection on top of a PersistentDataStore, and marshals between the
// store's raw SerializedItem and the typed *flagmodel.Flag/*Segment
// values the rest of this module works with.
//
// Grounded on the reference DataStoreWrapper: per-kind "all items"
// cache entries, singleflight-collapsed concurrent cache misses, and
// a poll loop that restores availability once the backing store
// recovers from an outage.
type PersistentWrapper struct {
	store PersistentDataStore
	ttl   CacheTTL
	log   zerolog.Logger

	mu    sync.RWMutex
	cache map[flagmodel.DataKind]*cacheEntry

	sf singleflight.Group

	availMu     sync.RWMutex
	available   bool
	pollCloser  chan struct{}
	pollRunning bool
	pollEvery   time.Duration

	onOutageEnd func()

	// pendingRetry tracks keys whose write was absorbed into the cache
	// but failed against the store, only used when ttl ==
	// CacheTTLInfinite. Recovery replays the whole cache rather than
	// retrying these individually, so this set is consulted only to
	// decide whether a replay is owed at all.
	pendingMu    sync.Mutex
	pendingRetry map[flagmodel.DataKind]map[string]struct{}
}

// NewPersistentWrapper constructs a wrapper around store using ttl for
// caching and pollEvery as the outage-recovery poll interval.
func NewPersistentWrapper(store PersistentDataStore, ttl CacheTTL, pollEvery time.Duration, log zerolog.Logger) *PersistentWrapper {
	return &PersistentWrapper{
		store:     store,
		ttl:       ttl,
		log:       log,
		cache:     make(map[flagmodel.DataKind]*cacheEntry),
		available: true,
		pollEvery: pollEvery,
	}
}

// OnOutageEnd registers a callback invoked once the store transitions
// from unavailable back to available.
func (w *PersistentWrapper) OnOutageEnd(fn func()) {
	w.onOutageEnd = fn
}

// Get retrieves a single item, consulting the cache first when caching
// is enabled.
func (w *PersistentWrapper) Get(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.ItemDescriptor, bool, error) {
	if w.ttl == CacheTTLNone {
		return w.getUncached(ctx, kind, key)
	}

	w.mu.RLock()
	entry, ok := w.cache[kind]
	w.mu.RUnlock()
	if ok && !entry.expired(time.Now()) {
		item, found := entry.items[key]
		return item, found, nil
	}

	// Collapse concurrent misses for the same kind into one store call.
	v, err, _ := w.sf.Do(string(kind)+":all", func() (any, error) {
		return w.loadAllAndCache(ctx, kind)
	})
	if err != nil {
		w.processError(err)
		return flagmodel.ItemDescriptor{}, false, err
	}
	items := v.(map[string]flagmodel.ItemDescriptor)
	item, found := items[key]
	return item, found, nil
}

// All returns every non-deleted item of a kind, populating the cache
// on a miss.
func (w *PersistentWrapper) All(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.ItemDescriptor, error) {
	live := func(items map[string]flagmodel.ItemDescriptor) map[string]flagmodel.ItemDescriptor {
		w.mu.RLock()
		defer w.mu.RUnlock()
		out := make(map[string]flagmodel.ItemDescriptor, len(items))
		for k, d := range items {
			if !d.Deleted() {
				out[k] = d
			}
		}
		return out
	}
	if w.ttl != CacheTTLNone {
		w.mu.RLock()
		entry, ok := w.cache[kind]
		w.mu.RUnlock()
		if ok && !entry.expired(time.Now()) {
			return live(entry.items), nil
		}
	}

	v, err, _ := w.sf.Do(string(kind)+":all", func() (any, error) {
		return w.loadAllAndCache(ctx, kind)
	})
	if err != nil {
		w.processError(err)
		return nil, err
	}
	return live(v.(map[string]flagmodel.ItemDescriptor)), nil
}

func (w *PersistentWrapper) loadAllAndCache(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.ItemDescriptor, error) {
	raw, err := w.store.All(ctx, kind)
	if err != nil {
		return nil, err
	}
	items, err := deserializeAll(kind, raw)
	if err != nil {
		return nil, err
	}
	if w.ttl != CacheTTLNone {
		w.setCacheAll(kind, items)
	}
	w.markAvailable()
	return items, nil
}

func (w *PersistentWrapper) getUncached(ctx context.Context, kind flagmodel.DataKind, key string) (flagmodel.ItemDescriptor, bool, error) {
	raw, ok, err := w.store.Get(ctx, kind, key)
	if err != nil {
		w.processError(err)
		return flagmodel.ItemDescriptor{}, false, err
	}
	if !ok {
		return flagmodel.ItemDescriptor{}, false, nil
	}
	item, err := deserializeOne(kind, raw)
	if err != nil {
		return flagmodel.ItemDescriptor{}, false, err
	}
	w.markAvailable()
	return item, true, nil
}

// Init replaces all data, then primes the cache with exactly what was
// written (avoiding a redundant round-trip read).
func (w *PersistentWrapper) Init(ctx context.Context, data flagmodel.FullDataSet) error {
	raw := make(map[flagmodel.DataKind]map[string]flagmodel.SerializedItem, len(data))
	for kind, items := range data {
		raw[kind] = serializeAll(items)
	}
	if err := w.store.Init(ctx, raw); err != nil {
		w.processError(err)
		return err
	}
	if w.ttl != CacheTTLNone {
		for kind, items := range data {
			w.setCacheAll(kind, items)
		}
	}
	w.markAvailable()
	return nil
}

// Upsert writes a single item and, on success, updates the cache entry
// in place so subsequent reads see it without a refetch. A no-op write
// (the store already held an equal-or-newer version) instead refreshes
// the cache entry from the store, since the cache's copy lost the
// race and would otherwise stay stale until TTL expiry. In
// CacheTTLInfinite mode, a store failure still applies the write to
// the cache and queues it for replay once the store recovers, rather
// than surfacing the error to the caller.
func (w *PersistentWrapper) Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.ItemDescriptor) (bool, error) {
	raw, err := serializeOne(item)
	if err != nil {
		return false, err
	}
	applied, err := w.store.Upsert(ctx, kind, key, raw)
	if err != nil {
		if w.ttl == CacheTTLInfinite {
			w.applyToCacheIfPresent(kind, key, item)
			w.queueRetry(kind, key)
			w.processError(err)
			return true, nil
		}
		w.processError(err)
		return false, err
	}

	if w.ttl != CacheTTLNone {
		if applied {
			w.applyToCacheIfPresent(kind, key, item)
		} else {
			w.refreshCachedKey(ctx, kind, key)
		}
	}
	w.markAvailable()
	return applied, nil
}

// applyToCacheIfPresent writes item into kind's cache entry if one
// already exists (an entry only exists after Init or a prior All/Get
// populated it); it deliberately never fabricates a partial entry,
// since a partial entry would later be mistaken for a complete All()
// result.
func (w *PersistentWrapper) applyToCacheIfPresent(kind flagmodel.DataKind, key string, item flagmodel.ItemDescriptor) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.cache[kind]
	if !ok || entry.expired(time.Now()) {
		return
	}
	entry.items[key] = item
}

// refreshCachedKey re-reads key from the store and overwrites (or
// removes) its cache entry, used when a write lost the version race
// and the cache's copy is therefore stale.
func (w *PersistentWrapper) refreshCachedKey(ctx context.Context, kind flagmodel.DataKind, key string) {
	w.mu.RLock()
	entry, ok := w.cache[kind]
	w.mu.RUnlock()
	if !ok || entry.expired(time.Now()) {
		return
	}

	raw, found, err := w.store.Get(ctx, kind, key)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !found {
		delete(entry.items, key)
		return
	}
	item, err := deserializeOne(kind, raw)
	if err != nil {
		return
	}
	entry.items[key] = item
}

func (w *PersistentWrapper) queueRetry(kind flagmodel.DataKind, key string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if w.pendingRetry == nil {
		w.pendingRetry = make(map[flagmodel.DataKind]map[string]struct{})
	}
	if w.pendingRetry[kind] == nil {
		w.pendingRetry[kind] = make(map[string]struct{})
	}
	w.pendingRetry[kind][key] = struct{}{}
}

// Initialized delegates to the underlying store.
func (w *PersistentWrapper) Initialized(ctx context.Context) (bool, error) {
	ok, err := w.store.Initialized(ctx)
	if err != nil {
		w.processError(err)
	}
	return ok, err
}

// Close stops the outage poller and closes the underlying store.
func (w *PersistentWrapper) Close() error {
	w.availMu.Lock()
	if w.pollCloser != nil {
		close(w.pollCloser)
		w.pollCloser = nil
		w.pollRunning = false
	}
	w.availMu.Unlock()
	return w.store.Close()
}

// Available reports the wrapper's current view of store availability.
func (w *PersistentWrapper) Available() bool {
	w.availMu.RLock()
	defer w.availMu.RUnlock()
	return w.available
}

func (w *PersistentWrapper) processError(err error) {
	w.availMu.Lock()
	wasAvailable := w.available
	w.available = false
	shouldPoll := wasAvailable && !w.pollRunning
	if shouldPoll {
		w.pollRunning = true
		w.pollCloser = make(chan struct{})
	}
	closer := w.pollCloser
	w.availMu.Unlock()

	if wasAvailable {
		w.log.Warn().Err(err).Msg("persistent store is unavailable, will poll for recovery")
	}
	if shouldPoll {
		go w.pollAvailabilityAfterOutage(closer)
	}
}

func (w *PersistentWrapper) markAvailable() {
	w.availMu.Lock()
	already := w.available
	w.available = true
	w.availMu.Unlock()
	if !already {
		w.log.Info().Msg("persistent store recovered")
	}
}

func (w *PersistentWrapper) pollAvailabilityAfterOutage(closer chan struct{}) {
	interval := w.pollEvery
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-closer:
			return
		case <-ticker.C:
			if w.store.IsAvailable(context.Background()) {
				w.availMu.Lock()
				w.available = true
				w.pollRunning = false
				w.pollCloser = nil
				w.availMu.Unlock()
				if w.ttl == CacheTTLInfinite {
					w.replayCachedState(context.Background())
				}
				w.log.Info().Msg("persistent store recovered")
				if w.onOutageEnd != nil {
					w.onOutageEnd()
				}
				return
			}
		}
	}
}

// replayCachedState re-initializes the now-recovered store from the
// wrapper's own in-memory cache, the infinite-TTL recovery path: the
// cache was kept current through every outage (applyToCacheIfPresent),
// so it holds the authoritative state the store needs to catch up to.
// A no-op if no write was ever queued for retry during the outage.
func (w *PersistentWrapper) replayCachedState(ctx context.Context) {
	w.pendingMu.Lock()
	hasPending := len(w.pendingRetry) > 0
	w.pendingMu.Unlock()
	if !hasPending {
		return
	}

	w.mu.RLock()
	raw := make(map[flagmodel.DataKind]map[string]flagmodel.SerializedItem, len(w.cache))
	for kind, entry := range w.cache {
		raw[kind] = serializeAll(entry.items)
	}
	w.mu.RUnlock()

	if err := w.store.Init(ctx, raw); err != nil {
		w.log.Warn().Err(err).Msg("failed to replay cached state into recovered persistent store")
		return
	}
	w.pendingMu.Lock()
	w.pendingRetry = nil
	w.pendingMu.Unlock()
	w.log.Info().Msg("replayed cached state into recovered persistent store")
}

func (w *PersistentWrapper) setCacheAll(kind flagmodel.DataKind, items map[string]flagmodel.ItemDescriptor) {
	entry := &cacheEntry{items: items, allOf: true}
	if w.ttl == CacheTTLInfinite {
		entry.forever = true
	} else {
		entry.expires = time.Now().Add(time.Duration(w.ttl))
	}
	w.mu.Lock()
	w.cache[kind] = entry
	w.mu.Unlock()
}

func serializeOne(item flagmodel.ItemDescriptor) (flagmodel.SerializedItem, error) {
	if item.Deleted() {
		return flagmodel.SerializedItem{Version: item.Version, Deleted: true}, nil
	}
	data, err := json.Marshal(item.Item)
	if err != nil {
		return flagmodel.SerializedItem{}, fmt.Errorf("marshal item: %w", err)
	}
	return flagmodel.SerializedItem{Version: item.Version, Data: data}, nil
}

func serializeAll(items map[string]flagmodel.ItemDescriptor) map[string]flagmodel.SerializedItem {
	out := make(map[string]flagmodel.SerializedItem, len(items))
	for k, v := range items {
		s, err := serializeOne(v)
		if err != nil {
			continue
		}
		out[k] = s
	}
	return out
}

func deserializeOne(kind flagmodel.DataKind, raw flagmodel.SerializedItem) (flagmodel.ItemDescriptor, error) {
	if raw.Deleted {
		return flagmodel.ItemDescriptor{Version: raw.Version}, nil
	}
	item, err := unmarshalKind(kind, raw.Data)
	if err != nil {
		return flagmodel.ItemDescriptor{}, err
	}
	return flagmodel.ItemDescriptor{Version: raw.Version, Item: item}, nil
}

func deserializeAll(kind flagmodel.DataKind, raw map[string]flagmodel.SerializedItem) (map[string]flagmodel.ItemDescriptor, error) {
	out := make(map[string]flagmodel.ItemDescriptor, len(raw))
	for k, v := range raw {
		item, err := deserializeOne(kind, v)
		if err != nil {
			return nil, fmt.Errorf("deserialize %s/%s: %w", kind, k, err)
		}
		out[k] = item
	}
	return out, nil
}

func unmarshalKind(kind flagmodel.DataKind, data []byte) (any, error) {
	switch kind {
	case flagmodel.Flags:
		var f flagmodel.Flag
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return &f, nil
	case flagmodel.Segments:
		var s flagmodel.Segment
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("unknown data kind %q", kind)
	}
}
