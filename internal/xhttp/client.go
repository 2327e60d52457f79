// Package xhttp centralises HTTP client construction shared by
// internal/datasource and internal/events, the way datastore.NewPool
// centralises pool construction: one constructor, documented
// pre/postconditions, production-sane defaults.
package xhttp

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Config describes how to build an *http.Client for talking to the
// flag control plane or the events ingestion endpoint.
//
// Zero-value Config produces a client with 10s connect/socket timeouts
// and no proxy/custom headers - safe for tests, not tuned for streaming
// (use NewStreamingClient for that case, which disables the overall
// request timeout since the body is read indefinitely).
type Config struct {
	ConnectTimeout  time.Duration
	SocketTimeout   time.Duration
	ProxyURL        *url.URL
	CustomHeaders   map[string]string
	InsecureSkipTLS bool
}

// NewClient builds an *http.Client per cfg, suitable for short-lived
// request/response calls (polling, event delivery). For an SSE stream
// connection use NewStreamingClient instead.
//
// Example:
//
//	client := xhttp.NewClient(xhttp.Config{ConnectTimeout: 5 * time.Second})
//	resp, err := client.Do(req)
func NewClient(cfg Config) *http.Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	socketTimeout := cfg.SocketTimeout
	if socketTimeout <= 0 {
		socketTimeout = 10 * time.Second
	}

	transport := baseTransport(cfg, connectTimeout)
	return &http.Client{
		Transport: headerInjectingTransport{base: transport, headers: cfg.CustomHeaders},
		Timeout:   socketTimeout,
	}
}

// NewStreamingClient builds an *http.Client appropriate for a
// long-lived SSE connection: no overall request timeout (the response
// body is read until the peer closes or the caller cancels via
// context), but the same connect timeout and proxy/header
// configuration as NewClient.
func NewStreamingClient(cfg Config) *http.Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	transport := baseTransport(cfg, connectTimeout)
	return &http.Client{
		Transport: headerInjectingTransport{base: transport, headers: cfg.CustomHeaders},
		Timeout:   0,
	}
}

func baseTransport(cfg Config, connectTimeout time.Duration) *http.Transport {
	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS},
	}
	if cfg.ProxyURL != nil {
		t.Proxy = http.ProxyURL(cfg.ProxyURL)
	}
	return t
}

// headerInjectingTransport adds a fixed set of headers to every
// outgoing request, used for customHeaders configuration.
type headerInjectingTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t headerInjectingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
