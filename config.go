package flagcore

import (
	"net/http"
	"time"

	"github.com/flagcore-io/flagcore-go/internal/bigsegment"
	"github.com/flagcore-io/flagcore-go/internal/datastore"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/rs/zerolog"
)

// DataSourceMode selects how a Client keeps its flag/segment data
// current.
type DataSourceMode string

const (
	// DataSourceStreaming connects to StreamURI and consumes an SSE
	// put/patch/delete stream, reconnecting with backoff on failure.
	DataSourceStreaming DataSourceMode = "streaming"
	// DataSourcePolling GETs PollURI on a fixed interval.
	DataSourcePolling DataSourceMode = "polling"
	// DataSourceOffline serves only whatever data was supplied via
	// Config.Offline*, never making a network connection. Useful for
	// tests and for environments that pre-bake flag data at build time.
	DataSourceOffline DataSourceMode = "offline"
)

// EventsConfig tunes the analytics event pipeline. The zero value picks
// the same defaults events.New would apply on its own.
type EventsConfig struct {
	// Disabled turns the Client's TrackEvent/Identify/variation calls
	// into no-ops for event delivery, without affecting evaluation.
	Disabled bool

	Capacity                    int
	FlushInterval               time.Duration
	ContextKeysCapacity         int
	DiagnosticRecordingInterval time.Duration
}

// BigSegmentsConfig wires an out-of-band big segment store in for
// unbounded-segment targeting rules. A nil Store means segmentMatch
// clauses against unbounded segments never match and the Client
// reports BigSegmentStatus NOT_CONFIGURED.
type BigSegmentsConfig struct {
	Store      bigsegment.Store
	CacheSize  int
	CacheTTL   time.Duration
	StaleAfter time.Duration
}

// Config configures a Client. Construct with reasonable defaults via
// the zero value plus StreamURI/EventsURI (streaming mode is the
// default DataSourceMode), or set Mode to DataSourceOffline together
// with OfflineData for a network-free Client.
type Config struct {
	// StreamURI is the SSE "/all" endpoint consulted when Mode is
	// DataSourceStreaming (the default).
	StreamURI string
	// PollURI is the snapshot endpoint consulted when Mode is
	// DataSourcePolling.
	PollURI         string
	PollInterval time.Duration
	Mode         DataSourceMode
	// OfflineData supplies the complete flag/segment data set used when
	// Mode is DataSourceOffline, in lieu of any network connection.
	OfflineData flagmodel.FullDataSet
	HTTPClient  *http.Client

	// EventsURI is the base URL analytics events are POSTed to (paths
	// "/bulk" and "/diagnostic" are appended by the event pipeline).
	EventsURI string
	Events    EventsConfig

	// PersistentStore, if set, backs the data store with an external
	// medium (e.g. Redis, Postgres) behind a caching wrapper, instead
	// of the default pure in-memory store.
	PersistentStore         datastore.PersistentDataStore
	PersistentStoreCacheTTL datastore.CacheTTL
	PersistentStorePollEvery time.Duration

	BigSegments BigSegmentsConfig

	// OutageLogAfter is how long a data-source outage must persist
	// before it is logged as a single aggregated error line.
	OutageLogAfter time.Duration

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = DataSourceStreaming
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Events.Capacity <= 0 {
		c.Events.Capacity = 1000
	}
	if c.Events.FlushInterval <= 0 {
		c.Events.FlushInterval = 5 * time.Second
	}
	if c.OutageLogAfter <= 0 {
		c.OutageLogAfter = time.Minute
	}
	return c
}
