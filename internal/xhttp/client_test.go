package xhttp

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient_InjectsCustomHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := NewClient(Config{CustomHeaders: map[string]string{"Authorization": "sdk-key-123"}})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()

	if gotHeader != "sdk-key-123" {
		t.Errorf("expected injected Authorization header, got %q", gotHeader)
	}
}

func TestNewClient_DefaultsTimeout(t *testing.T) {
	client := NewClient(Config{})
	if client.Timeout != 10*time.Second {
		t.Errorf("expected default 10s socket timeout, got %v", client.Timeout)
	}
}

func TestNewStreamingClient_HasNoOverallTimeout(t *testing.T) {
	client := NewStreamingClient(Config{})
	if client.Timeout != 0 {
		t.Errorf("expected streaming client to have no overall timeout, got %v", client.Timeout)
	}
}
