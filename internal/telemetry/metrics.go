// Package telemetry exposes Prometheus metrics describing the health
// of a running flagcore.Client: how much data-store traffic it has
// applied, what state its data source is in, how deep its event queue
// is, and how effective its big-segment membership cache is.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// StoreUpserts is the cumulative count of single-item updates the
	// data store has applied (sampled from datasource.UpdateSink.UpsertCount).
	StoreUpserts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagcore_store_upserts_total",
		Help: "Cumulative number of single-item flag/segment updates applied to the data store",
	})

	// DataSourceState reports the current data-source connection state
	// as a set of mutually-exclusive 0/1 gauges, one per state label.
	DataSourceState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flagcore_data_source_state",
		Help: "Current data source connection state (1 for the active state, 0 for all others)",
	}, []string{"state"})

	// EventsQueueDepth is the number of analytics events currently
	// buffered awaiting the next flush.
	EventsQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagcore_events_queue_depth",
		Help: "Number of analytics events currently buffered in the pipeline inbox",
	})

	// EventsDropped is the cumulative count of analytics events dropped
	// because the pipeline inbox was full.
	EventsDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagcore_events_dropped_total",
		Help: "Cumulative number of analytics events dropped due to a full inbox",
	})

	// BigSegmentCacheHits and BigSegmentCacheMisses together give the
	// big-segment membership cache's hit ratio (hits / (hits+misses)).
	BigSegmentCacheHits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagcore_big_segment_cache_hits_total",
		Help: "Cumulative number of big segment membership cache hits",
	})
	BigSegmentCacheMisses = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flagcore_big_segment_cache_misses_total",
		Help: "Cumulative number of big segment membership cache misses",
	})
)

// dataSourceStates lists every label DataSourceState is ever set for,
// so SetDataSourceState can zero out the previously-active state.
var dataSourceStates = []string{"INITIALIZING", "VALID", "INTERRUPTED", "OFF"}

// Init registers every metric in this package with the default
// Prometheus registry. Call once at process startup.
func Init() {
	prometheus.MustRegister(StoreUpserts, DataSourceState, EventsQueueDepth, EventsDropped,
		BigSegmentCacheHits, BigSegmentCacheMisses)
}

// SetDataSourceState marks state as the sole active data-source state,
// zeroing every other known state label.
func SetDataSourceState(state string) {
	for _, s := range dataSourceStates {
		if s == state {
			DataSourceState.WithLabelValues(s).Set(1)
		} else {
			DataSourceState.WithLabelValues(s).Set(0)
		}
	}
}
