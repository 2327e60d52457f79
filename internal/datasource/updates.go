package datasource

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flagcore-io/flagcore-go/internal/broadcast"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/rs/zerolog"
)

// Store is the subset of datastore.DataStore the updates facade needs.
// Declared locally (rather than imported) so that datasource does not
// depend on the concrete datastore package.
type Store interface {
	Init(ctx context.Context, data flagmodel.FullDataSet) error
	Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.ItemDescriptor) (bool, error)
	All(ctx context.Context, kind flagmodel.DataKind) (map[string]flagmodel.ItemDescriptor, error)
}

// ChangeEvent reports that a flag's evaluation result may have changed.
type ChangeEvent struct {
	Key string
}

// UpdateSink is the single entry point every data source pushes
// updates through (C4). It owns the dependency graph, the
// status state machine, and outage-error aggregation.
//
// Grounded directly on the vendored DataSourceUpdatesImpl: the same
// Init/Upsert/UpdateStatus trio, the same dependency-tracker-driven
// change-event fan-out, and the same outage-error-aggregation-with-
// timeout log line.
type UpdateSink struct {
	store   Store
	graph   *flagmodel.DependencyGraph
	changes *broadcast.Broadcaster[ChangeEvent]
	status  *broadcast.Broadcaster[Status]
	log     zerolog.Logger

	mu                    sync.Mutex
	current               Status
	lastStoreUpdateFailed bool

	outage outageTracker

	upsertCount int64
}

// NewUpdateSink constructs an UpdateSink. outageLogAfter is the
// duration an outage must persist before it is logged as a single
// aggregated error line (0 disables aggregated logging entirely).
func NewUpdateSink(store Store, outageLogAfter time.Duration, log zerolog.Logger) *UpdateSink {
	s := &UpdateSink{
		store:   store,
		graph:   flagmodel.NewDependencyGraph(),
		changes: broadcast.New[ChangeEvent](),
		status:  broadcast.New[Status](),
		log:     log,
		current: Status{State: StateInitializing, StateSince: time.Now()},
	}
	s.outage = outageTracker{timeout: outageLogAfter, log: log}
	return s
}

// Changes returns the broadcaster flag-change listeners subscribe to.
func (s *UpdateSink) Changes() *broadcast.Broadcaster[ChangeEvent] { return s.changes }

// StatusUpdates returns the broadcaster data-source-status listeners
// subscribe to.
func (s *UpdateSink) StatusUpdates() *broadcast.Broadcaster[Status] { return s.status }

// CurrentStatus returns the current state-machine snapshot.
func (s *UpdateSink) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// UpsertCount returns the cumulative number of single-item Upsert
// calls that actually applied a change to the store, for metrics
// sampling.
func (s *UpdateSink) UpsertCount() int64 {
	return atomic.LoadInt64(&s.upsertCount)
}

// Init replaces the entire data set and, if anything changed relative
// to what was previously stored, broadcasts a change event for every
// affected flag (its own key plus every flag/segment that depends on
// it, per the dependency graph).
func (s *UpdateSink) Init(ctx context.Context, data flagmodel.FullDataSet) bool {
	var oldData flagmodel.FullDataSet
	if s.changes.HasListeners() {
		oldData = make(flagmodel.FullDataSet, 2)
		for _, kind := range []flagmodel.DataKind{flagmodel.Flags, flagmodel.Segments} {
			if items, err := s.store.All(ctx, kind); err == nil {
				oldData[kind] = items
			}
		}
	}

	err := s.store.Init(ctx, data)
	ok := s.maybeUpdateError(err)
	if !ok {
		return false
	}

	s.graph.Reset(data)

	if oldData != nil {
		s.sendChangeEventsForDiff(oldData, data)
	}
	return true
}

// Upsert writes a single item and, if it actually applied, broadcasts
// change events for it and every item that transitively depends on it.
func (s *UpdateSink) Upsert(ctx context.Context, kind flagmodel.DataKind, key string, item flagmodel.ItemDescriptor) bool {
	applied, err := s.store.Upsert(ctx, kind, key, item)
	ok := s.maybeUpdateError(err)
	if !ok {
		return false
	}
	if applied {
		atomic.AddInt64(&s.upsertCount, 1)
		s.graph.UpdateDependencies(kind, key, item)
		if s.changes.HasListeners() {
			for _, ref := range s.graph.AffectedBy(kind, key) {
				if ref.Kind == flagmodel.Flags {
					s.changes.Broadcast(ChangeEvent{Key: ref.Key})
				}
			}
		}
	}
	return ok
}

func (s *UpdateSink) maybeUpdateError(err error) bool {
	if err == nil {
		s.mu.Lock()
		s.lastStoreUpdateFailed = false
		s.mu.Unlock()
		return true
	}

	s.UpdateStatus(StateInterrupted, ErrorInfo{Kind: ErrorKindStoreError, Message: err.Error(), Time: time.Now()})

	s.mu.Lock()
	shouldLog := !s.lastStoreUpdateFailed
	s.lastStoreUpdateFailed = true
	s.mu.Unlock()
	if shouldLog {
		s.log.Warn().Err(err).Msg("data store error while applying a data-source update")
	}
	return false
}

// UpdateStatus records a new connection state/error, broadcasting to
// status listeners only if the effective (post-pinning) state changed
// or an error was reported (a repeated identical error is broadcast
// again).
func (s *UpdateSink) UpdateStatus(newState State, newErr ErrorInfo) {
	if newState == "" {
		return
	}
	if status, changed := s.maybeUpdateStatus(newState, newErr); changed {
		s.status.Broadcast(status)
	}
}

// maybeUpdateStatus applies the divergent-but-preserved rule: a
// data source reporting INTERRUPTED while the sink has never left
// INITIALIZING is pinned to INITIALIZING, since the process has never
// successfully had valid data and "interrupted" implies a prior
// working connection.
func (s *UpdateSink) maybeUpdateStatus(newState State, newErr ErrorInfo) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current
	if newState == StateInterrupted && old.State == StateInitializing {
		newState = StateInitializing
	}
	if newState == old.State && newErr.Kind == "" {
		return Status{}, false
	}

	stateSince := old.StateSince
	if newState != old.State {
		stateSince = time.Now()
	}
	lastErr := old.LastError
	if newErr.Kind != "" {
		lastErr = newErr
	}
	s.current = Status{State: newState, StateSince: stateSince, LastError: lastErr}
	s.outage.track(newState, newErr)
	return s.current, true
}

func (s *UpdateSink) sendChangeEventsForDiff(oldData, newData flagmodel.FullDataSet) {
	affected := make(map[flagmodel.KeyRef]struct{})
	for _, kind := range []flagmodel.DataKind{flagmodel.Flags, flagmodel.Segments} {
		oldItems := oldData[kind]
		newItems := newData[kind]
		keys := make(map[string]struct{}, len(oldItems)+len(newItems))
		for k := range oldItems {
			keys[k] = struct{}{}
		}
		for k := range newItems {
			keys[k] = struct{}{}
		}
		for key := range keys {
			oldItem, hadOld := oldItems[key]
			newItem, hasNew := newItems[key]
			if !hadOld || !hasNew || oldItem.Version < newItem.Version {
				for _, ref := range s.graph.AffectedBy(kind, key) {
					affected[ref] = struct{}{}
				}
			}
		}
	}
	for ref := range affected {
		if ref.Kind == flagmodel.Flags {
			s.changes.Broadcast(ChangeEvent{Key: ref.Key})
		}
	}
}

// outageTracker aggregates repeated errors during a sustained outage
// into a single log line once timeout has elapsed,
// instead of logging every individual failed poll/reconnect attempt.
type outageTracker struct {
	timeout time.Duration
	log     zerolog.Logger

	mu          sync.Mutex
	inOutage    bool
	errorCounts map[ErrorInfo]int
	closer      chan struct{}
}

func (o *outageTracker) track(newState State, newErr ErrorInfo) {
	if o.timeout == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	outageCondition := newState == StateInterrupted || newErr.Kind != "" ||
		(newState == StateInitializing && o.inOutage)

	if outageCondition {
		if o.inOutage {
			o.errorCounts[newErr.basicKey()]++
			return
		}
		o.inOutage = true
		o.errorCounts = map[ErrorInfo]int{newErr.basicKey(): 1}
		o.closer = make(chan struct{})
		go o.awaitTimeout(o.closer)
		return
	}

	if o.closer != nil {
		close(o.closer)
		o.closer = nil
	}
	o.inOutage = false
}

func (o *outageTracker) awaitTimeout(closer chan struct{}) {
	select {
	case <-closer:
		return
	case <-time.After(o.timeout):
	}

	o.mu.Lock()
	if !o.inOutage {
		o.mu.Unlock()
		return
	}
	desc := o.describeErrors()
	o.closer = nil
	o.mu.Unlock()

	o.log.Error().Str("duration", o.timeout.String()).Str("errors", desc).
		Msg("data source outage - updates have been unavailable")
}

func (o *outageTracker) describeErrors() string {
	out := ""
	for err, count := range o.errorCounts {
		if out != "" {
			out += ", "
		}
		times := "times"
		if count == 1 {
			times = "time"
		}
		out += fmt.Sprintf("%s (%d %s)", err.Kind, count, times)
	}
	return out
}
