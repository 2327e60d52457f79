package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func intPtr(i int) *int { return &i }

func TestShouldSample_RatioZeroNeverSamples(t *testing.T) {
	for i := 0; i < 100; i++ {
		if shouldSampleWith(0, func() float64 { return 0 }) {
			t.Fatal("ratio 0 must never sample")
		}
	}
}

func TestShouldSample_RatioOneAlwaysSamples(t *testing.T) {
	if !shouldSampleWith(1, func() float64 { return 0.999 }) {
		t.Fatal("ratio 1 must always sample")
	}
}

func TestShouldSample_RatioNDependsOnDraw(t *testing.T) {
	if !shouldSampleWith(4, func() float64 { return 0.1 }) {
		t.Error("draw below 1/4 threshold should sample")
	}
	if shouldSampleWith(4, func() float64 { return 0.9 }) {
		t.Error("draw above 1/4 threshold should not sample")
	}
}

func TestContextDedup_AtMostOncePerInterval(t *testing.T) {
	d := newContextDedup(10)
	if d.seenOrRecord("user-1") {
		t.Fatal("first sighting should report not-seen")
	}
	if !d.seenOrRecord("user-1") {
		t.Fatal("second sighting should report seen")
	}
}

func TestContextDedup_FullSetSkipsDedup(t *testing.T) {
	d := newContextDedup(1)
	d.seenOrRecord("a")
	if d.seenOrRecord("b") {
		t.Fatal("expected set-at-capacity to report not-seen for a new key rather than erroring")
	}
}

func TestSummaryAccumulator_CountsPerVariation(t *testing.T) {
	acc := newSummaryAccumulator(1000)
	acc.record(Event{Kind: KindFeature, FlagKey: "f1", Version: intPtr(2), VariationIndex: intPtr(0), Value: "a", Default: "a"})
	acc.record(Event{Kind: KindFeature, FlagKey: "f1", Version: intPtr(2), VariationIndex: intPtr(0), Value: "a", Default: "a"})
	acc.record(Event{Kind: KindFeature, FlagKey: "f1", Version: intPtr(2), VariationIndex: intPtr(1), Value: "b", Default: "a"})

	se, ok := acc.flush(2000)
	if !ok {
		t.Fatal("expected a summary event")
	}
	fs := se.Features["f1"]
	if len(fs.Counters) != 2 {
		t.Fatalf("expected 2 distinct variation counters, got %d", len(fs.Counters))
	}
	for _, c := range fs.Counters {
		if c.Variation != nil && *c.Variation == 0 && c.Count != 2 {
			t.Errorf("expected variation 0 count=2, got %d", c.Count)
		}
	}
}

func TestSummaryAccumulator_ExcludeFromSummarySkips(t *testing.T) {
	acc := newSummaryAccumulator(1000)
	acc.record(Event{Kind: KindFeature, FlagKey: "f1", ExcludeSummary: true})
	if _, ok := acc.flush(2000); ok {
		t.Fatal("expected no summary when all records were excluded")
	}
}

func TestDebugClock_ExpiryAgainstServerTime(t *testing.T) {
	d := &debugClock{}
	until := int64(5000)
	if !d.shouldEmitDebug(&until, 1000) {
		t.Fatal("expected debug event before expiry")
	}
	d.observeServerTime(6000)
	if d.shouldEmitDebug(&until, 1000) {
		t.Fatal("expected server time to override a stale client clock and expire debug mode")
	}
}

func TestPipeline_FlushesSummaryAndFeatureEvents(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		json.NewDecoder(r.Body).Decode(&batch)
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
		json.NewEncoder(w).Encode(DeliveryResponse{Success: true})
	}))
	defer srv.Close()

	p := New(Config{
		BaseURI:       srv.URL,
		FlushInterval: 20 * time.Millisecond,
		Log:           zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	p.Add(Event{Kind: KindFeature, FlagKey: "f1", ContextKey: "user-1", Version: intPtr(1), VariationIndex: intPtr(0), Value: true, Default: false, TrackEvents: true})

	time.Sleep(80 * time.Millisecond)
	cancel()
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(received) == 0 {
		t.Fatal("expected at least one delivered event")
	}
}

func TestPipeline_UnauthorizedTriggersMustShutdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := New(Config{BaseURI: srv.URL, FlushInterval: 10 * time.Millisecond, Log: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Close() }()

	p.Add(Event{Kind: KindFeature, FlagKey: "f1", ContextKey: "u1", TrackEvents: true})
	time.Sleep(60 * time.Millisecond)

	if atomic := p.mustShutdown; atomic == 0 {
		t.Fatal("expected mustShutdown to be set after a 401 response")
	}
}

func TestPipeline_AddDropsWhenFull(t *testing.T) {
	p := New(Config{Capacity: 1, FlushInterval: time.Hour, Log: zerolog.Nop()})
	p.inbox = make(chan Event) // unbuffered, so first Add fills nothing and blocks select default
	p.Add(Event{Kind: KindCustom})
	if p.droppedEvents != 1 {
		t.Fatalf("expected 1 dropped event, got %d", p.droppedEvents)
	}
	if got := p.DroppedEvents(); got != 1 {
		t.Fatalf("DroppedEvents() = %d, want 1", got)
	}
	if got := p.QueueDepth(); got != 0 {
		t.Fatalf("QueueDepth() = %d, want 0 on an unbuffered inbox that dropped", got)
	}
}
