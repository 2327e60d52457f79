// Package events implements the analytics event pipeline: context
// deduplication, per-flag summary accumulation, a bounded ring-buffer
// inbox, and a background flush worker that batches and delivers
// events (with retry and sampling) to the events ingestion endpoint.
//
// Grounded on the teacher's internal/webhook.Dispatcher (bounded
// channel queue, background worker, exponential retry) and
// internal/audit.Service (bounded queue with drop-on-full, Clock seam
// for deterministic tests, atomic close guard).
package events

import "time"

// Kind identifies one of the four wire event kinds, plus the
// internally-generated summary record.
type Kind string

const (
	KindIdentify Kind = "identify"
	KindIndex    Kind = "index"
	KindFeature  Kind = "feature"
	KindCustom   Kind = "custom"
	KindSummary  Kind = "summary"
)

// Event is the tagged-union wire shape for one analytics event. Only
// the fields relevant to Kind are populated.
type Event struct {
	Kind           Kind           `json:"kind"`
	CreationDate   int64          `json:"creationDate"`
	ContextKey     string         `json:"contextKey,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	FlagKey        string         `json:"key,omitempty"`
	Version        *int           `json:"version,omitempty"`
	VariationIndex *int           `json:"variation,omitempty"`
	Value          any            `json:"value,omitempty"`
	Default        any            `json:"default,omitempty"`
	PrereqOf       string         `json:"prereqOf,omitempty"`
	TrackEvents    bool           `json:"-"`
	Debug          bool           `json:"-"`
	Name           string         `json:"name,omitempty"`
	MetricValue    *float64       `json:"metricValue,omitempty"`
	SamplingRatio  int            `json:"-"`
	ExcludeSummary bool           `json:"-"`
	DebugUntil     *int64         `json:"-"`
}

// variationKey identifies one (flag version, variation index) cell of
// the summary table.
type variationKey struct {
	flagKey string
	version int
	index   int // -1 means "no variation index" (e.g. off/default result)
}

// summaryCounter accumulates counts and the default value for one
// variationKey across a flush interval.
type summaryCounter struct {
	count   int
	value   any
	def     any
	version int
}

// SummaryEvent is the flushed shape of accumulated per-flag,
// per-variation counters.
type SummaryEvent struct {
	Kind      Kind                      `json:"kind"`
	StartDate int64                     `json:"startDate"`
	EndDate   int64                     `json:"endDate"`
	Features  map[string]FeatureSummary `json:"features"`
}

// FeatureSummary is one flag's worth of summary counters.
type FeatureSummary struct {
	Default   any              `json:"default"`
	Counters  []VariationCount `json:"counters"`
	ContextKinds []string      `json:"contextKinds,omitempty"`
}

// VariationCount is one (version, variation) cell's count and value.
type VariationCount struct {
	Version   int  `json:"version"`
	Variation *int `json:"variation,omitempty"`
	Value     any  `json:"value"`
	Count     int  `json:"count"`
}

// DeliveryResponse is the decoded shape of the events endpoint's
// response body.
type DeliveryResponse struct {
	Success     bool  `json:"success"`
	MustShutdown bool  `json:"mustShutdown"`
	ServerTime  int64 `json:"serverTime"`
}

func nowMillis(clock Clock) int64 {
	return clock.Now().UnixMilli()
}

// Clock abstracts time.Now for deterministic tests, matching the
// teacher's audit.Clock seam.
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
