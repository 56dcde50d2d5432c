package client

import (
	"net/http"
	"time"
)

// Headers carries the upstream request headers a provider wants injected on
// every outbound call. Empty fields are skipped.
type Headers struct {
	UserAgent string
	Origin    string
	Referrer  string
}

// HeaderSettingClient wraps http.Client to automatically set upstream headers.
// Providers share the transport but carry their own header set.
type HeaderSettingClient struct {
	Client  *http.Client
	headers Headers
}

// NewHeaderSettingClient builds a client tuned for provider API traffic:
// bounded header wait, pooled keep-alive connections, no overall timeout so
// long playlist bodies can stream.
func NewHeaderSettingClient(headers Headers) *HeaderSettingClient {
	client := &http.Client{
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			DisableKeepAlives:     false,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client:  client,
		headers: headers,
	}
}

// Do injects the configured headers and executes the request.
func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if hsc.headers.UserAgent != "" {
		req.Header.Set("User-Agent", hsc.headers.UserAgent)
	}
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Accept", "*/*")

	if hsc.headers.Origin != "" {
		req.Header.Set("Origin", hsc.headers.Origin)
	}
	if hsc.headers.Referrer != "" {
		req.Header.Set("Referer", hsc.headers.Referrer)
	}
}
