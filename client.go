// Package flagcore is the public embedding surface of this module: a
// feature-flag evaluation runtime a host application links in
// directly, wiring the data store, data source, evaluator, event
// pipeline and big-segment store together behind a single Client.
//
// Grounded on the reference server-side SDK's root-package Client
// shape: one long-lived object a host constructs once at startup,
// waits on for initialization, and evaluates flags against throughout
// the process lifetime.
package flagcore

import (
	"context"
	"fmt"
	"sync"

	"github.com/flagcore-io/flagcore-go/internal/bigsegment"
	"github.com/flagcore-io/flagcore-go/internal/broadcast"
	"github.com/flagcore-io/flagcore-go/internal/datasource"
	"github.com/flagcore-io/flagcore-go/internal/datastore"
	"github.com/flagcore-io/flagcore-go/internal/evaluator"
	"github.com/flagcore-io/flagcore-go/internal/events"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/flagcore-io/flagcore-go/internal/xhttp"
	"github.com/rs/zerolog"
)

// Client evaluates flags against a continuously-updated flag/segment
// data set and reports analytics events about those evaluations.
// A Client is safe for concurrent use; construct one per process with
// NewClient and Close it during shutdown.
type Client struct {
	cfg Config
	log zerolog.Logger

	store datastore.DataStore
	sink  *datasource.UpdateSink
	eval  *evaluator.Evaluator

	streaming   *datasource.Streaming
	polling     *datasource.Polling
	bigSegments *bigsegment.Wrapper
	bigAdapter  *bigSegmentProviderAdapter
	pipeline    *events.Pipeline

	ctx    context.Context
	cancel context.CancelFunc

	initialized   chan struct{}
	initCloseOnce sync.Once
	closeOnce     sync.Once
}

// NewClient constructs a Client for the given SDK key and immediately
// begins connecting per cfg.Mode. Use WaitForInitialization to block
// until the first data set has been applied.
func NewClient(sdkKey string, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	log := cfg.Logger

	var store datastore.DataStore
	if cfg.PersistentStore != nil {
		store = datastore.NewPersistentWrapper(cfg.PersistentStore, cfg.PersistentStoreCacheTTL, cfg.PersistentStorePollEvery, log)
	} else {
		store = datastore.NewMemory()
	}

	sink := datasource.NewUpdateSink(store, cfg.OutageLogAfter, log)
	eval := evaluator.New(store)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:         cfg,
		log:         log,
		store:       store,
		sink:        sink,
		eval:        eval,
		ctx:         ctx,
		cancel:      cancel,
		initialized: make(chan struct{}),
	}

	if cfg.BigSegments.Store != nil {
		wrapper := bigsegment.NewWrapper(cfg.BigSegments.Store, cfg.BigSegments.CacheSize, cfg.BigSegments.CacheTTL, cfg.BigSegments.StaleAfter, log)
		wrapper.SetPollingActive(ctx, true)
		adapter := newBigSegmentProviderAdapter(wrapper)
		eval.WithBigSegments(adapter)
		c.bigSegments = wrapper
		c.bigAdapter = adapter
	}

	if !cfg.Events.Disabled {
		c.pipeline = events.New(events.Config{
			Capacity:                    cfg.Events.Capacity,
			FlushInterval:               cfg.Events.FlushInterval,
			ContextKeysCapacity:         cfg.Events.ContextKeysCapacity,
			DiagnosticRecordingInterval: cfg.Events.DiagnosticRecordingInterval,
			BaseURI:                     cfg.EventsURI,
			Client:                      xhttp.NewClient(xhttp.Config{CustomHeaders: authHeader(sdkKey)}),
			Log:                         log,
		})
		c.pipeline.Start(ctx)
	}

	go c.watchInitialization(ctx)
	go c.watchMetrics(ctx)

	switch cfg.Mode {
	case DataSourceOffline:
		sink.Init(ctx, cfg.OfflineData)
	case DataSourcePolling:
		if cfg.PollURI == "" {
			cancel()
			return nil, fmt.Errorf("flagcore: PollURI is required for DataSourcePolling")
		}
		client := cfg.HTTPClient
		if client == nil {
			client = xhttp.NewClient(xhttp.Config{CustomHeaders: authHeader(sdkKey)})
		}
		c.polling = datasource.NewPolling(cfg.PollURI, cfg.PollInterval, client, sink, log)
		c.polling.Start(ctx)
	default: // DataSourceStreaming
		if cfg.StreamURI == "" {
			cancel()
			return nil, fmt.Errorf("flagcore: StreamURI is required for DataSourceStreaming")
		}
		client := cfg.HTTPClient
		if client == nil {
			client = xhttp.NewStreamingClient(xhttp.Config{CustomHeaders: authHeader(sdkKey)})
		}
		c.streaming = datasource.NewStreaming(cfg.StreamURI, client, sink, log)
		if c.pipeline != nil {
			c.streaming.OnConnectAttempt = func(a datasource.ConnectionAttempt) {
				c.pipeline.RecordStreamInit(events.StreamInit{
					Timestamp:  a.Timestamp.UnixMilli(),
					DurationMs: a.Duration.Milliseconds(),
					Failed:     a.Failed,
				})
			}
		}
		c.streaming.Start(ctx)
	}

	return c, nil
}

func authHeader(sdkKey string) map[string]string {
	if sdkKey == "" {
		return nil
	}
	return map[string]string{"Authorization": sdkKey}
}

// watchInitialization closes c.initialized the first time the data
// source reaches VALID, or immediately for offline mode (without
// consulting the store, since an offline Client never reports through
// UpdateStatus at all).
func (c *Client) watchInitialization(ctx context.Context) {
	if c.cfg.Mode == DataSourceOffline {
		c.markInitialized()
		return
	}
	ch := c.sink.StatusUpdates().AddListener()
	defer c.sink.StatusUpdates().RemoveListener(ch)

	if c.sink.CurrentStatus().State == datasource.StateValid {
		c.markInitialized()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ch:
			if st.State == datasource.StateValid {
				c.markInitialized()
				return
			}
		}
	}
}

func (c *Client) markInitialized() {
	c.initCloseOnce.Do(func() { close(c.initialized) })
}

// Initialized reports whether the Client has ever successfully applied
// a full data set.
func (c *Client) Initialized() bool {
	select {
	case <-c.initialized:
		return true
	default:
		return false
	}
}

// WaitForInitialization blocks until Initialized would return true, or
// ctx is done, whichever comes first.
func (c *Client) WaitForInitialization(ctx context.Context) error {
	select {
	case <-c.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DataSourceStatus reports the current connection state of the
// streaming/polling data source.
func (c *Client) DataSourceStatus() datasource.Status {
	return c.sink.CurrentStatus()
}

// BigSegmentStoreStatus reports the health of the big segment store,
// or BigSegmentNotConfigured if none was wired in via Config.
func (c *Client) BigSegmentStoreStatus() evaluator.BigSegmentStatus {
	if c.bigAdapter == nil {
		return evaluator.BigSegmentNotConfigured
	}
	return c.bigAdapter.Status()
}

// AddFlagChangeListener registers for notifications that a flag's
// evaluation result may have changed (its own definition, or a
// prerequisite/segment it depends on). Unregister with
// RemoveFlagChangeListener once done.
func (c *Client) AddFlagChangeListener() chan datasource.ChangeEvent {
	return c.sink.Changes().AddListener()
}

// RemoveFlagChangeListener unsubscribes a channel returned by
// AddFlagChangeListener.
func (c *Client) RemoveFlagChangeListener(ch chan datasource.ChangeEvent) {
	c.sink.Changes().RemoveListener(ch)
}

// AddDataSourceStatusListener registers for data-source connection
// state transitions.
func (c *Client) AddDataSourceStatusListener() chan datasource.Status {
	return c.sink.StatusUpdates().AddListener()
}

// RemoveDataSourceStatusListener unsubscribes a channel returned by
// AddDataSourceStatusListener.
func (c *Client) RemoveDataSourceStatusListener(ch chan datasource.Status) {
	c.sink.StatusUpdates().RemoveListener(ch)
}

// BoolVariation evaluates a boolean flag. Returns defaultValue if the
// flag is missing, off with no off-variation, or evaluates to a
// non-bool value.
func (c *Client) BoolVariation(ctx context.Context, flagKey string, ec Context, defaultValue bool) bool {
	v, _ := c.variation(ctx, flagKey, ec, defaultValue)
	b, ok := v.(bool)
	if !ok {
		return defaultValue
	}
	return b
}

// StringVariation evaluates a string flag.
func (c *Client) StringVariation(ctx context.Context, flagKey string, ec Context, defaultValue string) string {
	v, _ := c.variation(ctx, flagKey, ec, defaultValue)
	s, ok := v.(string)
	if !ok {
		return defaultValue
	}
	return s
}

// JSONVariation evaluates a flag whose variations are arbitrary JSON
// values, returning the raw decoded value (map[string]any, []any,
// float64, string, bool, or nil) as stored in the flag's variation
// list.
func (c *Client) JSONVariation(ctx context.Context, flagKey string, ec Context, defaultValue any) any {
	v, _ := c.variation(ctx, flagKey, ec, defaultValue)
	return v
}

// variation resolves flagKey against ec, always returning a usable
// value (defaultValue on any failure) alongside the evaluation reason,
// and records the resulting analytics events.
func (c *Client) variation(ctx context.Context, flagKey string, ec Context, defaultValue any) (any, evaluator.Reason) {
	if !ec.Valid() {
		return defaultValue, evaluator.Reason{Kind: evaluator.ReasonError, ErrorKind: flagmodel.ErrorUserNotSpecified}
	}

	desc, ok, err := c.store.Get(ctx, flagmodel.Flags, flagKey)
	if err != nil || !ok || desc.Item == nil {
		c.trackUnknownFlagEvent(ec, flagKey, defaultValue)
		return defaultValue, evaluator.Reason{Kind: evaluator.ReasonError, ErrorKind: flagmodel.ErrorFlagNotFound}
	}
	flag, ok := desc.Item.(*flagmodel.Flag)
	if !ok {
		return defaultValue, evaluator.Reason{Kind: evaluator.ReasonError, ErrorKind: flagmodel.ErrorMalformedFlag}
	}

	var prereqRecords []evaluator.PrereqRecord
	res := c.eval.Evaluate(ctx, flag, ec.mc, func(r evaluator.PrereqRecord) {
		prereqRecords = append(prereqRecords, r)
	})
	// Prerequisite events must precede the final feature event for the
	// flag being evaluated.
	c.trackPrereqEvents(flag, res, ec, prereqRecords)
	c.trackFeatureEvent(flag, ec, res, defaultValue)

	if res.Reason.Kind == evaluator.ReasonError || res.VariationIndex == nil {
		return defaultValue, res.Reason
	}
	return res.Value, res.Reason
}

// EvalResult is the detailed outcome of a flag evaluation: the
// resolved value plus the reason it was selected, for diagnostics and
// for callers (like flagcore-demo) that want more than the bare value.
type EvalResult struct {
	FlagKey         string `json:"flagKey"`
	Value           any    `json:"value"`
	Reason          string `json:"reason"`
	RuleIndex       int    `json:"ruleIndex,omitempty"`
	RuleID          string `json:"ruleId,omitempty"`
	PrerequisiteKey string `json:"prerequisiteKey,omitempty"`
	ErrorKind       string `json:"errorKind,omitempty"`
	InExperiment    bool   `json:"inExperiment,omitempty"`
}

// JSONVariationDetail evaluates flagKey like JSONVariation but returns
// the full reason alongside the resolved value.
func (c *Client) JSONVariationDetail(ctx context.Context, flagKey string, ec Context, defaultValue any) EvalResult {
	v, reason := c.variation(ctx, flagKey, ec, defaultValue)
	return EvalResult{
		FlagKey:         flagKey,
		Value:           v,
		Reason:          string(reason.Kind),
		RuleIndex:       reason.RuleIndex,
		RuleID:          reason.RuleID,
		PrerequisiteKey: reason.PrerequisiteKey,
		ErrorKind:       string(reason.ErrorKind),
		InExperiment:    reason.InExperiment,
	}
}

func (c *Client) trackUnknownFlagEvent(ec Context, flagKey string, defaultValue any) {
	if c.pipeline == nil {
		return
	}
	c.pipeline.Add(events.Event{
		Kind:       events.KindFeature,
		ContextKey: ec.mc.FullyQualifiedKey(),
		Context:    contextEventPayload(ec.mc),
		FlagKey:    flagKey,
		Value:      defaultValue,
		Default:    defaultValue,
	})
}

// isFeatureEventTracked reports whether res's evaluation of flag
// qualifies for a feature event on its own terms: the flag's
// trackEvents flag, a rule-level trackEvent override, or (checked by
// the caller separately) debug mode.
func isFeatureEventTracked(flag *flagmodel.Flag, res evaluator.Result) bool {
	trackEvents := flag.TrackEvents
	switch res.Reason.Kind {
	case evaluator.ReasonFallthrough:
		trackEvents = trackEvents || flag.TrackEventsFallthrough
	case evaluator.ReasonRuleMatch:
		if res.Reason.RuleIndex >= 0 && res.Reason.RuleIndex < len(flag.Rules) {
			trackEvents = trackEvents || flag.Rules[res.Reason.RuleIndex].TrackEvent
		}
	}
	return trackEvents
}

func (c *Client) trackFeatureEvent(flag *flagmodel.Flag, ec Context, res evaluator.Result, defaultValue any) {
	if c.pipeline == nil {
		return
	}
	trackEvents := isFeatureEventTracked(flag, res)

	version := flag.Version
	c.pipeline.Add(events.Event{
		Kind:           events.KindFeature,
		ContextKey:     ec.mc.FullyQualifiedKey(),
		Context:        contextEventPayload(ec.mc),
		FlagKey:        flag.Key,
		Version:        &version,
		VariationIndex: res.VariationIndex,
		Value:          res.Value,
		Default:        defaultValue,
		TrackEvents:    trackEvents,
		DebugUntil:     flag.DebugEventsUntilDate,
	})
}

// trackPrereqEvents emits a feature event for every prerequisite
// walked while evaluating topFlag, in the order prereqSink reported
// them (deepest-first, so nested prerequisites precede the flags that
// declare them) — ahead of the final feature event for topFlag
// itself. A prerequisite is tracked either on its own terms
// (isFeatureEventTracked) or because it is a prerequisite of a tracked
// top-level evaluation.
func (c *Client) trackPrereqEvents(topFlag *flagmodel.Flag, topRes evaluator.Result, ec Context, records []evaluator.PrereqRecord) {
	if c.pipeline == nil || len(records) == 0 {
		return
	}
	topTracked := isFeatureEventTracked(topFlag, topRes)
	for _, rec := range records {
		if !isFeatureEventTracked(rec.Flag, rec.Result) && !topTracked {
			continue
		}
		version := rec.Flag.Version
		c.pipeline.Add(events.Event{
			Kind:           events.KindFeature,
			ContextKey:     ec.mc.FullyQualifiedKey(),
			Context:        contextEventPayload(ec.mc),
			FlagKey:        rec.Flag.Key,
			Version:        &version,
			VariationIndex: rec.Result.VariationIndex,
			Value:          rec.Result.Value,
			TrackEvents:    true,
			DebugUntil:     rec.Flag.DebugEventsUntilDate,
			PrereqOf:       rec.Parent,
		})
	}
}

// Identify records that a context was seen, without evaluating any
// flag. Most applications don't need this explicitly: every variation
// call already records the context for deduplication purposes.
func (c *Client) Identify(ec Context) {
	if c.pipeline == nil || !ec.Valid() {
		return
	}
	c.pipeline.Add(events.Event{
		Kind:       events.KindIdentify,
		ContextKey: ec.mc.FullyQualifiedKey(),
		Context:    contextEventPayload(ec.mc),
	})
}

// TrackEvent records a custom analytics event, optionally carrying a
// numeric metric value (e.g. for revenue or latency experiments).
func (c *Client) TrackEvent(ec Context, name string, data any, metricValue *float64) {
	if c.pipeline == nil || !ec.Valid() {
		return
	}
	c.pipeline.Add(events.Event{
		Kind:        events.KindCustom,
		ContextKey:  ec.mc.FullyQualifiedKey(),
		Context:     contextEventPayload(ec.mc),
		Name:        name,
		Value:       data,
		MetricValue: metricValue,
	})
}

// Flush requests an out-of-cycle delivery of any buffered analytics
// events, without waiting for the next flush interval.
func (c *Client) Flush() {
	if c.pipeline != nil {
		c.pipeline.Flush()
	}
}

// Close stops the data source and event pipeline and releases the
// underlying data store. Safe to call multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.streaming != nil {
			c.streaming.Close()
		}
		if c.polling != nil {
			c.polling.Close()
		}
		if c.pipeline != nil {
			c.pipeline.Close()
		}
		if c.bigSegments != nil {
			if bErr := c.bigSegments.Close(); bErr != nil {
				err = bErr
			}
		}
		c.cancel()
		if sErr := c.store.Close(); sErr != nil && err == nil {
			err = sErr
		}
	})
	return err
}
