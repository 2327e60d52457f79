package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flagcore-io/flagcore-go/internal/datastore"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/rs/zerolog"
)

func TestPolling_FetchesAndAppliesSnapshot(t *testing.T) {
	payload := `{"path":"/","data":{"flags":{"f1":{"version":1,"data":{"key":"f1","on":true}}}}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	mem := datastore.NewMemory()
	sink := NewUpdateSink(mem, 0, zerolog.Nop())
	p := NewPolling(srv.URL, time.Hour, nil, sink, zerolog.Nop())

	p.pollOnce(context.Background())

	all, err := mem.All(context.Background(), flagmodel.Flags)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if _, ok := all["f1"]; !ok {
		t.Fatal("expected f1 to be present after poll")
	}
	if sink.CurrentStatus().State != StateValid {
		t.Errorf("expected VALID after a successful poll, got %s", sink.CurrentStatus().State)
	}
}

func TestPolling_NotModifiedKeepsValid(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("If-None-Match") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, `{"path":"/","data":{"flags":{}}}`)
	}))
	defer srv.Close()

	mem := datastore.NewMemory()
	sink := NewUpdateSink(mem, 0, zerolog.Nop())
	p := NewPolling(srv.URL, time.Hour, nil, sink, zerolog.Nop())

	p.pollOnce(context.Background())
	p.pollOnce(context.Background())

	if calls != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}
	if sink.CurrentStatus().State != StateValid {
		t.Errorf("expected VALID after a 304, got %s", sink.CurrentStatus().State)
	}
}

func TestPolling_UnauthorizedGoesOff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	mem := datastore.NewMemory()
	sink := NewUpdateSink(mem, 0, zerolog.Nop())
	p := NewPolling(srv.URL, time.Hour, nil, sink, zerolog.Nop())

	p.pollOnce(context.Background())

	if sink.CurrentStatus().State != StateOff {
		t.Errorf("expected OFF after a 401, got %s", sink.CurrentStatus().State)
	}
}
