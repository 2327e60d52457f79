package datasource

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/flagcore-io/flagcore-go/internal/datastore"
	"github.com/flagcore-io/flagcore-go/internal/flagmodel"
	"github.com/rs/zerolog"
)

func TestSplitPath(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"/flags/my-flag", false},
		{"/segments/beta", false},
		{"/unknown/x", true},
		{"/flags", true},
	}
	for _, c := range cases {
		_, _, err := splitPath(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("splitPath(%q): err=%v, wantErr=%v", c.path, err, c.wantErr)
		}
	}
}

func TestClassifyHTTPError(t *testing.T) {
	terminal, status := classifyHTTPError(&httpStatusError{status: http.StatusUnauthorized})
	if !terminal || status != http.StatusUnauthorized {
		t.Errorf("expected 401 to be terminal, got terminal=%v status=%d", terminal, status)
	}
	terminal, _ = classifyHTTPError(&httpStatusError{status: http.StatusServiceUnavailable})
	if terminal {
		t.Error("expected 503 to be recoverable, not terminal")
	}
}

func TestStreaming_ConsumePutThenPatchThenDelete(t *testing.T) {
	mem := datastore.NewMemory()
	sink := NewUpdateSink(mem, 0, zerolog.Nop())
	s := NewStreaming("http://example.invalid/all", nil, sink, zerolog.Nop())

	body := "" +
		"event: put\n" +
		`data: {"path":"/","data":{"flags":{"f1":{"version":1,"data":{"key":"f1","on":true}}}}}` + "\n" +
		"\n" +
		"event: patch\n" +
		`data: {"path":"/flags/f2","item":{"version":1,"data":{"key":"f2","on":false}}}` + "\n" +
		"\n" +
		"event: delete\n" +
		`data: {"path":"/flags/f1","version":2}` + "\n" +
		"\n"

	ctx := context.Background()
	if err := s.consume(ctx, strings.NewReader(body)); err != nil {
		t.Fatalf("consume returned error: %v", err)
	}

	all, err := mem.All(ctx, flagmodel.Flags)
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if _, ok := all["f1"]; ok {
		t.Error("expected f1 to have been deleted by the delete event")
	}
	if _, ok := all["f2"]; !ok {
		t.Error("expected f2 to have been added by the patch event")
	}
}
