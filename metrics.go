package flagcore

import (
	"context"
	"sync"
	"time"

	"github.com/flagcore-io/flagcore-go/internal/telemetry"
)

var telemetryInitOnce sync.Once

// watchMetrics samples this Client's health into the package-level
// Prometheus gauges in internal/telemetry: the current data-source
// state (event-driven, via the status broadcaster) and a periodic
// snapshot of store/event/big-segment counters that have no natural
// broadcast point of their own.
func (c *Client) watchMetrics(ctx context.Context) {
	telemetryInitOnce.Do(telemetry.Init)

	if c.cfg.Mode == DataSourceOffline {
		telemetry.SetDataSourceState("OFF")
		c.sampleMetrics()
		<-ctx.Done()
		return
	}

	telemetry.SetDataSourceState(string(c.sink.CurrentStatus().State))
	ch := c.sink.StatusUpdates().AddListener()
	defer c.sink.StatusUpdates().RemoveListener(ch)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-ch:
			telemetry.SetDataSourceState(string(st.State))
		case <-ticker.C:
			c.sampleMetrics()
		}
	}
}

func (c *Client) sampleMetrics() {
	telemetry.StoreUpserts.Set(float64(c.sink.UpsertCount()))
	if c.pipeline != nil {
		telemetry.EventsQueueDepth.Set(float64(c.pipeline.QueueDepth()))
		telemetry.EventsDropped.Set(float64(c.pipeline.DroppedEvents()))
	}
	if c.bigSegments != nil {
		hits, misses := c.bigSegments.CacheStats()
		telemetry.BigSegmentCacheHits.Set(float64(hits))
		telemetry.BigSegmentCacheMisses.Set(float64(misses))
	}
}
