package bigsegment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeStore struct {
	calls       int32
	membership  *Membership
	err         error
	lastUpToDate time.Time
	luErr       error
}

func (f *fakeStore) GetMembership(ctx context.Context, contextHash string) (*Membership, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.membership, nil
}

func (f *fakeStore) LastUpToDate(ctx context.Context) (time.Time, error) {
	return f.lastUpToDate, f.luErr
}

func (f *fakeStore) Close() error { return nil }

func TestWrapper_CachesMembership(t *testing.T) {
	fs := &fakeStore{membership: &Membership{Included: map[string]bool{"beta": true}}}
	w := NewWrapper(fs, 10, time.Minute, time.Minute, zerolog.Nop())

	for i := 0; i < 5; i++ {
		m, err := w.GetMembership(context.Background(), "user-key-1")
		if err != nil {
			t.Fatalf("GetMembership: %v", err)
		}
		if included, explicit := m.IncludedIn("beta"); !included || !explicit {
			t.Errorf("expected explicit inclusion in beta")
		}
	}
	if atomic.LoadInt32(&fs.calls) != 1 {
		t.Errorf("expected exactly 1 store call due to caching, got %d", fs.calls)
	}
}

func TestWrapper_CacheStatsCountHitsAndMisses(t *testing.T) {
	fs := &fakeStore{membership: &Membership{Included: map[string]bool{"beta": true}}}
	w := NewWrapper(fs, 10, time.Minute, time.Minute, zerolog.Nop())

	w.GetMembership(context.Background(), "user-key-1")
	w.GetMembership(context.Background(), "user-key-1")
	w.GetMembership(context.Background(), "user-key-1")

	hits, misses := w.CacheStats()
	if misses != 1 {
		t.Errorf("expected 1 cache miss, got %d", misses)
	}
	if hits != 2 {
		t.Errorf("expected 2 cache hits, got %d", hits)
	}
}

func TestWrapper_DistinctKeysEachHitStore(t *testing.T) {
	fs := &fakeStore{membership: &Membership{}}
	w := NewWrapper(fs, 10, time.Minute, time.Minute, zerolog.Nop())

	w.GetMembership(context.Background(), "user-1")
	w.GetMembership(context.Background(), "user-2")
	w.GetMembership(context.Background(), "user-3")

	if atomic.LoadInt32(&fs.calls) != 3 {
		t.Errorf("expected 3 store calls for 3 distinct keys, got %d", fs.calls)
	}
}

func TestWrapper_ClearCacheForcesRefetch(t *testing.T) {
	fs := &fakeStore{membership: &Membership{}}
	w := NewWrapper(fs, 10, time.Minute, time.Minute, zerolog.Nop())

	w.GetMembership(context.Background(), "user-1")
	w.ClearCache()
	w.GetMembership(context.Background(), "user-1")

	if atomic.LoadInt32(&fs.calls) != 2 {
		t.Errorf("expected 2 store calls after ClearCache, got %d", fs.calls)
	}
}

func TestWrapper_StoreErrorMarksUnavailable(t *testing.T) {
	fs := &fakeStore{err: errors.New("boom")}
	w := NewWrapper(fs, 10, time.Minute, time.Minute, zerolog.Nop())

	_, err := w.GetMembership(context.Background(), "user-1")
	if err == nil {
		t.Fatal("expected error from GetMembership")
	}
	if w.Status() != StatusStoreError {
		t.Errorf("expected STORE_ERROR after a store error, got %s", w.Status())
	}
}

func TestWrapper_IsStaleByAge(t *testing.T) {
	fs := &fakeStore{}
	w := NewWrapper(fs, 10, time.Minute, 100*time.Millisecond, zerolog.Nop())

	if !w.isStale(time.Now().Add(-time.Second)) {
		t.Error("expected a one-second-old sync to be stale with a 100ms stale threshold")
	}
	if w.isStale(time.Now()) {
		t.Error("expected a fresh sync to not be stale")
	}
	if !w.isStale(time.Time{}) {
		t.Error("expected a zero-value last-up-to-date to be considered stale")
	}
}

func TestWrapper_PollUpdatesStaleness(t *testing.T) {
	fs := &fakeStore{lastUpToDate: time.Now().Add(-time.Hour)}
	w := NewWrapper(fs, 10, time.Minute, 50*time.Millisecond, zerolog.Nop())

	w.pollStoreAndUpdateStatus(context.Background())

	if w.Status() != StatusStale {
		t.Errorf("expected STALE after polling a long-out-of-date store, got %s", w.Status())
	}
}

func TestWrapper_OnStatusChangeFiresOnTransition(t *testing.T) {
	fs := &fakeStore{lastUpToDate: time.Now()}
	w := NewWrapper(fs, 10, time.Minute, 50*time.Millisecond, zerolog.Nop())

	var transitions []Status
	w.OnStatusChange(func(s Status) { transitions = append(transitions, s) })

	w.pollStoreAndUpdateStatus(context.Background()) // HEALTHY -> HEALTHY, no transition
	fs.lastUpToDate = time.Now().Add(-time.Hour)
	w.pollStoreAndUpdateStatus(context.Background()) // HEALTHY -> STALE

	if len(transitions) != 1 || transitions[0] != StatusStale {
		t.Errorf("expected exactly one transition to STALE, got %v", transitions)
	}
}

func TestWrapper_SetPollingActiveStartsAndStops(t *testing.T) {
	fs := &fakeStore{lastUpToDate: time.Now()}
	w := NewWrapper(fs, 10, time.Minute, time.Minute, zerolog.Nop())

	w.SetPollingActive(context.Background(), true)
	time.Sleep(10 * time.Millisecond)
	w.SetPollingActive(context.Background(), false)

	if w.pollActive {
		t.Error("expected pollActive to be false after stopping")
	}
}
